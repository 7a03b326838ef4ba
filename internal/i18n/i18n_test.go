package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "JEE Mock Test" {
		t.Errorf("T(AppTitle) = %q, want 'JEE Mock Test'", got)
	}
	if got := Subject(ctx, "MATHEMATICS"); got != "Mathematics" {
		t.Errorf("Subject(MATHEMATICS) = %q, want 'Mathematics'", got)
	}
}

func TestTranslateHindi(t *testing.T) {
	ctx := initLang(t, "hi")

	if got := Subject(ctx, "PHYSICS"); got != "भौतिकी" {
		t.Errorf("Subject(PHYSICS) = %q, want 'भौतिकी'", got)
	}
	if got := T(ctx, "ErrNotFound"); got != "नहीं मिला।" {
		t.Errorf("T(ErrNotFound) = %q, want 'नहीं मिला।'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsAssigned", 1); got != "1 question assigned." {
		t.Errorf("Tp(QuestionsAssigned, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsAssigned", 90); got != "90 questions assigned." {
		t.Errorf("Tp(QuestionsAssigned, 90) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "SubmitDone", map[string]any{"Score": 17, "Max": 40})
	if got != "Submitted. You scored 17 out of 40." {
		t.Errorf("Td(SubmitDone) = %q", got)
	}
}

func TestMissingKeyAndLanguage(t *testing.T) {
	ctx := initLang(t, "fr")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
	// Unknown language falls back to the default.
	if got := T(ctx, "AppTitle"); got != "JEE Mock Test" {
		t.Errorf("T(AppTitle) = %q, want fallback 'JEE Mock Test'", got)
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
		{"header wins", "hi-IN,hi;q=0.9", "गणित"},
		{"configured fallback", "", "Mathematics"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = Subject(r.Context(), "MATHEMATICS")
			}))
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Accept-Language", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if langs := Languages(); len(langs) != 2 {
		t.Errorf("expected 2 languages, got %v", langs)
	}
}
