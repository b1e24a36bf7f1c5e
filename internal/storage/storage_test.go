package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyderes/message-search-service/internal/config"
	"github.com/cyderes/message-search-service/internal/models"
	"github.com/cyderes/message-search-service/internal/textsearch"
)

func TestDedupeLastWins(t *testing.T) {
	in := []models.Message{
		msg("a", "one"),
		msg("b", "two"),
		msg("a", "three"),
		msg("c", "four"),
	}

	out := dedupeLastWins(in)

	assert.Equal(t, []string{"a", "b", "c"}, ids(out))
	assert.Equal(t, "three", out[0].Message)
}

func TestFTSMatchExpression(t *testing.T) {
	english, err := textsearch.NewAnalyzer(textsearch.ConfigEnglish)
	assert.NoError(t, err)
	simple, err := textsearch.NewAnalyzer(textsearch.ConfigSimple)
	assert.NoError(t, err)

	tests := []struct {
		name     string
		analyzer *textsearch.Analyzer
		text     string
		want     string
	}{
		{"plain words", english, "paris jet", `"paris" "jet"`},
		{"operators are quoted", simple, `jet OR NEAR(paris) "x"`, `"jet" "OR" "NEAR" "paris" "x"`},
		{"stop words dropped", english, "the flight to Rome", `"flight" "Rome"`},
		{"only stop words", english, "the and of", ""},
		{"simple keeps stop words", simple, "the flight", `"the" "flight"`},
		{"punctuation only", english, "?!", ""},
		{"decomposed word stays whole", english, "nai\u0308ve plan", "\"na\u00efve\" \"plan\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ftsMatchExpression(tt.analyzer, tt.text))
		})
	}
}

func TestNewStorage_UnsupportedType(t *testing.T) {
	_, err := NewStorage(context.Background(), config.StorageConfig{Type: "cassandra"})
	assert.Error(t, err)
}
