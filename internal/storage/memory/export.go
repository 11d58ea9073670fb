package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chronoportal/server/pkg/core"
)

// Export is the on-disk document written at the end of a game.
type Export struct {
	SessionID     uint                   `json:"sessionId"`
	ServerVersion string                 `json:"serverVersion"`
	Precision     string                 `json:"precision"`
	StartTime     time.Time              `json:"startTime"`
	Agents        []core.AgentDefinition `json:"agents"`
	Keyframes     []ExportKeyframe       `json:"keyframes"`
	Portals       []core.Portal          `json:"portals"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
}

// ExportKeyframe is one tick of agent states.
type ExportKeyframe struct {
	Tick   core.TimeIndex    `json:"tick"`
	States []core.AgentEntry `json:"states"`
}

// exportJSON writes the session data to a (optionally gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	timestamp := b.session.StartTime.Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("game_%d_%s.json.gz", b.session.ID, timestamp)
	} else {
		filename = fmt.Sprintf("game_%d_%s.json", b.session.ID, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write file
	if b.cfg.CompressOutput {
		if err := writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() Export {
	export := Export{
		SessionID:     b.session.ID,
		ServerVersion: b.session.ServerVersion,
		Precision:     b.session.Precision,
		StartTime:     b.session.StartTime,
		Agents:        b.sortedAgents(),
		Keyframes:     []ExportKeyframe{},
		Portals:       append([]core.Portal{}, b.portals...),
	}

	ticks := b.sortedTicks()
	for _, t := range ticks {
		export.Keyframes = append(export.Keyframes, ExportKeyframe{
			Tick:   t,
			States: b.keyframes[t].Entries(),
		})
	}

	if len(ticks) > 0 {
		export.Meta = map[string]interface{}{
			"firstTick": ticks[0],
			"lastTick":  ticks[len(ticks)-1],
		}
	}

	return export
}

func writeJSON(path string, data Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	encoder := json.NewEncoder(gzWriter)
	if err := encoder.Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}
