package httpapi

import (
	"encoding/json"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/ticker/internal/pipeline"
)

// stageArtifacts maps the public stage names to artifact files. These
// are debug taps: they serve whatever the last run left behind.
var stageArtifacts = map[string]string{
	"raw":        pipeline.ArtifactRaw,
	"filtered":   pipeline.ArtifactFiltered,
	"dropped":    pipeline.ArtifactFilteredDropped,
	"unique":     pipeline.ArtifactUnique,
	"duplicates": pipeline.ArtifactDuplicates,
	"structured": pipeline.ArtifactStructured,
	"errors":     pipeline.ArtifactStructureErrors,
}

func (s *Server) handleStageArtifact(c echo.Context) error {
	stage := strings.TrimSpace(strings.ToLower(c.Param("stage")))
	name, known := stageArtifacts[stage]
	if !known {
		return failNotFound(c, "Unknown pipeline stage")
	}

	if s.artifacts == nil {
		return internalError(c, "Artifact store is not configured")
	}

	payload, err := s.artifacts.ReadRaw(name)
	if err != nil {
		s.logger.Error().Err(err).Str("stage", stage).Msg("read stage artifact failed")
		return internalError(c, "Failed to read stage artifact")
	}
	if len(payload) == 0 {
		payload = []byte("[]")
	}

	return success(c, json.RawMessage(payload))
}
