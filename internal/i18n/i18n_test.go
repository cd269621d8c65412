package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "Exam Engine" {
		t.Errorf("T(AppTitle) = %q, want 'Exam Engine'", got)
	}

	got = T(ctx, "ErrNotFound")
	if got != "The requested resource was not found." {
		t.Errorf("T(ErrNotFound) = %q", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "AppTitle")
	if got != "Экзаменационный движок" {
		t.Errorf("T(AppTitle) = %q, want 'Экзаменационный движок'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ErrInsufficientQuestions", map[string]any{
		"rule_index": 0,
		"difficulty": "EASY",
		"requested":  2,
		"available":  1,
	})
	want := "Not enough questions for rule 0 (EASY): requested 2, available 1."
	if got != want {
		t.Errorf("Td(ErrInsufficientQuestions) = %q, want %q", got, want)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"russian header", "ru-RU,ru;q=0.9", "Экзаменационный движок"},
		{"no header uses default", "", "Exam Engine"},
		{"unknown language falls back", "de", "Exam Engine"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = T(r.Context(), "AppTitle")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Accept-Language", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("AppTitle = %q, want %q", got, tt.want)
			}
		})
	}
}
