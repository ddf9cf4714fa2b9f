package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetup_Level(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{level: "debug", want: zerolog.DebugLevel},
		{level: "WARN", want: zerolog.WarnLevel},
		{level: "", want: zerolog.InfoLevel},
		{level: "chatty", want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup("storefront", tt.level, "json")
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}
