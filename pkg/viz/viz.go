// Package viz draws a timeline as a left-to-right chain of boxes.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/timeline/pkg/timeline"
)

var formats = map[string]graphviz.Format{
	"png": graphviz.PNG,
	"svg": graphviz.SVG,
	"jpg": graphviz.JPG,
	"dot": graphviz.XDOT,
}

// ParseFormat accepts png, svg, jpg or dot, with or without a leading dot.
func ParseFormat(raw string) (graphviz.Format, error) {
	f, ok := formats[strings.ToLower(strings.TrimPrefix(raw, "."))]
	if !ok {
		return "", fmt.Errorf("unsupported format %q", raw)
	}
	return f, nil
}

func Render(entries []timeline.Entry, format graphviz.Format, w io.Writer) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(cgraph.LRRank)

	var prev *cgraph.Node
	for i, e := range entries {
		n, err := graph.CreateNode(strconv.Itoa(i))
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetShape(cgraph.BoxShape)
		n.SetLabel(fmt.Sprintf("%s %s\n%s", e.Emoji, e.Title, e.Date))
		if prev != nil {
			if _, err := graph.CreateEdge(fmt.Sprintf("e%d", i), prev, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
		prev = n
	}

	if err := g.Render(graph, format, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

// RenderToFile picks the format from the extension of outputPath.
func RenderToFile(entries []timeline.Entry, outputPath string) error {
	format, err := ParseFormat(filepath.Ext(outputPath))
	if err != nil {
		return err
	}
	var buff bytes.Buffer
	if err := Render(entries, format, &buff); err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

func RenderToTemp(entries []timeline.Entry, format graphviz.Format) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("timeline-%d%d.%s", time.Now().UnixNano(), rand.Int(), format))
	if err := RenderToFile(entries, tf); err != nil {
		return "", err
	}
	return tf, nil
}
