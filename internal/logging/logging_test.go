package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("PICWIZARD_TEST_VALUE", "")
	if got := EnvOrDefault("PICWIZARD_TEST_VALUE", "fallback"); got != "fallback" {
		t.Errorf("EnvOrDefault(unset) = %q, want fallback", got)
	}
	t.Setenv("PICWIZARD_TEST_VALUE", "set")
	if got := EnvOrDefault("PICWIZARD_TEST_VALUE", "fallback"); got != "set" {
		t.Errorf("EnvOrDefault(set) = %q, want set", got)
	}
}

func TestStartupLoggerLog(t *testing.T) {
	var buf bytes.Buffer
	old := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = old })

	NewStartupLogger("enhance").
		Version("1.2.3").
		Endpoint("enhance", "http://localhost:8000/enhance").
		Feature("s3Sink", false).
		Config("debounce", "300ms").
		Log()

	out := buf.String()
	for _, want := range []string{
		`"name":"enhance"`,
		`"version":"1.2.3"`,
		`"enhance":"http://localhost:8000/enhance"`,
		`"s3Sink":false`,
		`"debounce":"300ms"`,
		"Workbench startup complete",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("startup log missing %s\noutput: %s", want, out)
		}
	}
}
