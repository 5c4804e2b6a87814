// Package extract provides the extract node, which picks a frame position in an upstream video.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/canvasflow/pkg/executor"
	"github.com/dukex/canvasflow/pkg/nodes/media"
)

// Type is the node type handled by Node.
const Type = "extractNode"

// Timestamp units.
const (
	UnitSeconds = "seconds"
	UnitPercent = "percent"
)

// ErrInvalidTimestamp is returned for timestamps that cannot be parsed.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Timestamp is a frame position, absolute or relative to the video length.
type Timestamp struct {
	Value float64
	Unit  string
}

// ParseTimestamp accepts seconds ("12.5", 12.5), clock notation ("1:05",
// "01:02:03") and percentages ("50%").
func ParseTimestamp(raw any) (Timestamp, error) {
	s, isString := raw.(string)
	if !isString {
		v, err := executor.Number(raw)
		if err != nil {
			return Timestamp{}, fmt.Errorf("%w: %w", ErrInvalidTimestamp, err)
		}

		return seconds(v)
	}

	s = strings.TrimSpace(s)

	switch {
	case strings.HasSuffix(s, "%"):
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil || v < 0 || v > 100 {
			return Timestamp{}, fmt.Errorf("%w: %q is not a percentage between 0 and 100", ErrInvalidTimestamp, s)
		}

		return Timestamp{Value: v, Unit: UnitPercent}, nil
	case strings.Contains(s, ":"):
		return clock(s)
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}

		return seconds(v)
	}
}

func seconds(v float64) (Timestamp, error) {
	if v < 0 {
		return Timestamp{}, fmt.Errorf("%w: %g is negative", ErrInvalidTimestamp, v)
	}

	return Timestamp{Value: v, Unit: UnitSeconds}, nil
}

func clock(s string) (Timestamp, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}

	var total float64

	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}

		// every field but the leading one is a base-60 digit
		if i > 0 && v >= 60 {
			return Timestamp{}, fmt.Errorf("%w: %q has a field over 59", ErrInvalidTimestamp, s)
		}

		total = total*60 + v
	}

	return Timestamp{Value: total, Unit: UnitSeconds}, nil
}

// Node resolves the video and the timestamp of the frame to extract.
type Node struct{}

// New creates an extract node executor.
func New() *Node {
	return &Node{}
}

// Name returns the display name.
func (n *Node) Name() string {
	return "Extract Frame"
}

// Description returns the node description.
func (n *Node) Description() string {
	return "Selects the frame of a video at a timestamp given in seconds, mm:ss or percent"
}

// Schema returns the JSON schema for extract node configuration.
func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"video_url": map[string]any{
				"type":        "string",
				"description": "Video to read when no video is connected to the video_url handle",
			},
			"timestamp": map[string]any{
				"type":        []string{"number", "string"},
				"description": "Frame position: seconds, mm:ss, hh:mm:ss or a percentage such as 50%",
				"examples":    []any{12.5, "1:05", "50%"},
			},
		},
	}
}

// Execute returns {"video_url": ..., "timestamp": ..., "unit": ...}.
func (n *Node) Execute(_ context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	url, err := media.URL(config, inputs, "video_url")
	if err != nil {
		return nil, err
	}

	ts := Timestamp{Unit: UnitSeconds}

	if raw, ok := executor.Resolve(config, inputs, "timestamp", "timestamp"); ok {
		if bundle, isBundle := raw.(map[string]any); isBundle {
			if text, found := executor.Text(bundle); found {
				raw = text
			}
		}

		ts, err = ParseTimestamp(raw)
		if err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"video_url": url,
		"timestamp": ts.Value,
		"unit":      ts.Unit,
	}, nil
}
