package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"horse.fit/ticker/internal/pipeline"
)

func newArtifactServer(t *testing.T) (*Server, *pipeline.ArtifactStore) {
	t.Helper()
	artifacts, err := pipeline.NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("create artifact store: %v", err)
	}
	server := newTestServer(&fakeStore{})
	server.artifacts = artifacts
	return server, artifacts
}

func TestHandleStageArtifactServesWrittenFile(t *testing.T) {
	t.Parallel()

	server, artifacts := newArtifactServer(t)
	items := []pipeline.RawItem{{ID: "item-1", Title: "RBI cuts repo rate by 25 bps"}}
	if err := artifacts.WriteJSON(pipeline.ArtifactUnique, items); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	c, rec := newGetContext("/news/json/unique")
	c.SetParamNames("stage")
	c.SetParamValues("unique")

	if err := server.handleStageArtifact(c); err != nil {
		t.Fatalf("handleStageArtifact returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var decoded []pipeline.RawItem
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &decoded); err != nil {
		t.Fatalf("decode artifact data: %v", err)
	}
	if len(decoded) != 1 || decoded[0].ID != "item-1" {
		t.Fatalf("unexpected artifact payload: %+v", decoded)
	}
}

func TestHandleStageArtifactMissingFileServesEmptyList(t *testing.T) {
	t.Parallel()

	server, _ := newArtifactServer(t)
	for _, stage := range []string{"raw", "filtered", "dropped", "duplicates", "structured", "errors"} {
		c, rec := newGetContext("/news/json/" + stage)
		c.SetParamNames("stage")
		c.SetParamValues(stage)

		if err := server.handleStageArtifact(c); err != nil {
			t.Fatalf("stage %q: handleStageArtifact returned error: %v", stage, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("stage %q: unexpected status %d", stage, rec.Code)
		}

		env := decodeEnvelope(t, rec)
		if string(env.Data) != "[]" {
			t.Fatalf("stage %q: expected empty list, got %s", stage, env.Data)
		}
	}
}

func TestHandleStageArtifactUnknownStage(t *testing.T) {
	t.Parallel()

	server, _ := newArtifactServer(t)
	c, rec := newGetContext("/news/json/bogus")
	c.SetParamNames("stage")
	c.SetParamValues("bogus")

	if err := server.handleStageArtifact(c); err != nil {
		t.Fatalf("handleStageArtifact returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Message != "Unknown pipeline stage" {
		t.Fatalf("unexpected message: %q", env.Message)
	}
}
