package voice

import "testing"

func TestCleanForTTSStripsTypeTag(t *testing.T) {
	got := CleanForTTS("[[type:crisis]] Tolong hubungi bantuan")
	if got != "Tolong hubungi bantuan." {
		t.Fatalf("CleanForTTS() = %q", got)
	}
}

func TestCleanForTTSStripsMarkdown(t *testing.T) {
	got := CleanForTTS("**Halo**, lihat [panduan](https://example.com) dan `kode` _ini_")
	want := "Halo, lihat panduan dan kode ini."
	if got != want {
		t.Fatalf("CleanForTTS() = %q, want %q", got, want)
	}
}

func TestCleanForTTSKeepsSnakeCase(t *testing.T) {
	got := CleanForTTS("nilai session_id tetap utuh")
	if got != "nilai session_id tetap utuh." {
		t.Fatalf("CleanForTTS() = %q", got)
	}
}

func TestCleanForTTSNormalizesNewlines(t *testing.T) {
	got := CleanForTTS("Baris pertama\\nBaris kedua!\nBaris ketiga")
	want := "Baris pertama. Baris kedua! Baris ketiga."
	if got != want {
		t.Fatalf("CleanForTTS() = %q, want %q", got, want)
	}
}

func TestCleanForTTSRemovesHeadingsAndSpacing(t *testing.T) {
	got := CleanForTTS("# Judul\nisi  dengan   spasi ,  dan ( tanda )")
	want := "Judul. isi dengan spasi, dan (tanda)."
	if got != want {
		t.Fatalf("CleanForTTS() = %q, want %q", got, want)
	}
}

func TestCleanForTTSEmptyInput(t *testing.T) {
	if got := CleanForTTS(""); got != "" {
		t.Fatalf("CleanForTTS(\"\") = %q, want empty", got)
	}
}
