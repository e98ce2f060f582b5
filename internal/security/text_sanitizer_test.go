package security

import "testing"

func TestClean(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "空文字列", input: "", want: ""},
		{name: "プレーンテキストはそのまま", input: "Laskar Pelangi", want: "Laskar Pelangi"},
		{name: "タグを除去する", input: "<b>Bumi</b> <i>Manusia</i>", want: "Bumi Manusia"},
		{name: "scriptの中身も残さない", input: `Judul<script>alert("x")</script>`, want: "Judul"},
		{name: "イベント属性ごと除去する", input: `<img src=x onerror="alert(1)">Ronggeng`, want: "Ronggeng"},
		{name: "エンティティを復元する", input: "Tom &amp; Jerry", want: "Tom & Jerry"},
		{name: "記号はエスケープされたまま残らない", input: "A & B < C", want: "A & B < C"},
		{name: "連続空白を詰める", input: "  Sang \n\t Pemimpi  ", want: "Sang Pemimpi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestClean_Idempotent(t *testing.T) {
	s := NewTextSanitizer()
	inputs := []string{
		"<p>Ayat-Ayat Cinta</p>",
		"Tom &amp; Jerry",
		"<a href='javascript:alert(1)'>Perahu</a> Kertas",
	}
	for _, in := range inputs {
		once := s.Clean(in)
		if twice := s.Clean(once); twice != once {
			t.Errorf("Clean not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}
