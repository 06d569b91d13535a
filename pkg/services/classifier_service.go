package services

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fabrica-inc/ingest-engine/pkg/models"
	"github.com/fabrica-inc/ingest-engine/pkg/ocr"
	"github.com/fabrica-inc/ingest-engine/pkg/similarity"
)

//go:embed classifier_signals.yaml
var classifierSignalsYAML []byte

// Classification is the classifier's verdict for a document.
type Classification struct {
	DocType    models.DocumentType
	Confidence float64
	Language   string
}

// ClassifierService assigns a document type and language from deterministic
// text signals. Ties and weak signals fall back to type "other" instead of
// guessing.
type ClassifierService interface {
	Classify(ctx context.Context, pages []ocr.Page) (*Classification, error)
}

type classifierService struct {
	signals *classifierSignals
	logger  *zap.Logger
}

type classifierSignals struct {
	Types     map[string][]string `yaml:"types"`
	Languages map[string][]string `yaml:"languages"`
}

// NewClassifierService creates a ClassifierService from the embedded signal
// sets.
func NewClassifierService(logger *zap.Logger) (ClassifierService, error) {
	signals := &classifierSignals{}
	if err := yaml.Unmarshal(classifierSignalsYAML, signals); err != nil {
		return nil, fmt.Errorf("failed to parse classifier signals: %w", err)
	}
	if len(signals.Types) == 0 {
		return nil, fmt.Errorf("classifier signals define no document types")
	}

	return &classifierService{
		signals: signals,
		logger:  logger.Named("classifier-service"),
	}, nil
}

var _ ClassifierService = (*classifierService)(nil)

// weakSignalConfidence is reported when no keyword decides the type.
const weakSignalConfidence = 0.3

func (s *classifierService) Classify(ctx context.Context, pages []ocr.Page) (*Classification, error) {
	var sb strings.Builder
	for _, p := range pages {
		sb.WriteString(p.Text)
		sb.WriteByte('\n')
	}
	text := " " + similarity.Normalize(sb.String()) + " "

	bestType := models.DocTypeOther
	bestScore := 0.0
	tied := false
	for typeName, keywords := range s.signals.Types {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(text, " "+similarity.Normalize(kw)+" ") {
				hits++
			}
		}
		score := float64(hits) / float64(len(keywords))
		switch {
		case score > bestScore:
			bestType = models.DocumentType(typeName)
			bestScore = score
			tied = false
		case score == bestScore && score > 0 && typeName != string(bestType):
			tied = true
		}
	}

	result := &Classification{
		DocType:    bestType,
		Confidence: 0.5 + bestScore/2,
		Language:   s.detectLanguage(text),
	}
	if bestScore == 0 || tied {
		result.DocType = models.DocTypeOther
		result.Confidence = weakSignalConfidence
	}

	s.logger.Debug("document classified",
		zap.String("doc_type", string(result.DocType)),
		zap.Float64("confidence", result.Confidence),
		zap.String("language", result.Language))

	return result, nil
}

// detectLanguage counts stopword occurrences per language and picks the
// clear winner; an empty string means undetected.
func (s *classifierService) detectLanguage(normalizedText string) string {
	tokens := strings.Fields(normalizedText)
	counts := make(map[string]int, len(s.signals.Languages))
	for lang, stopwords := range s.signals.Languages {
		set := make(map[string]struct{}, len(stopwords))
		for _, w := range stopwords {
			set[w] = struct{}{}
		}
		for _, tok := range tokens {
			if _, ok := set[tok]; ok {
				counts[lang]++
			}
		}
	}

	best, bestCount, tied := "", 0, false
	for lang, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount, tied = lang, n, false
		case n == bestCount && n > 0 && lang != best:
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return ""
	}
	return best
}
