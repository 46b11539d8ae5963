package bundle

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// ErrBadGeometry is returned when a bundle geometry file cannot be parsed.
var ErrBadGeometry = errors.New("malformed bundle geometry")

// LoadGeometry parses a bundle geometry file. The ".xml" extension selects
// the XML-tagged variant; everything else is read as the default
// line-oriented format.
func LoadGeometry(path string) ([]Member, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle geometry: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return parseXMLGeometry(data)
	}
	return parseTextGeometry(data)
}

// parseTextGeometry reads the default format: a marker-count line followed
// by one line per member with nine fields,
//
//	id size tx ty tz qw qx qy qz
//
// where the pose maps marker-local coordinates into the bundle frame.
// Blank lines and lines starting with '#' are skipped.
func parseTextGeometry(data []byte) ([]Member, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrBadGeometry)
	}

	count, err := strconv.Atoi(lines[0])
	if err != nil || count <= 0 {
		return nil, fmt.Errorf("%w: bad marker count %q", ErrBadGeometry, lines[0])
	}
	if len(lines)-1 != count {
		return nil, fmt.Errorf("%w: header says %d markers, file has %d", ErrBadGeometry, count, len(lines)-1)
	}

	members := make([]Member, 0, count)
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) != 9 {
			return nil, fmt.Errorf("%w: marker line %q has %d fields, want 9", ErrBadGeometry, line, len(fields))
		}

		id, err := strconv.Atoi(fields[0])
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: bad marker id %q", ErrBadGeometry, fields[0])
		}
		vals := make([]float64, 8)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q in marker line", ErrBadGeometry, f)
			}
			vals[i] = v
		}
		if vals[0] <= 0 {
			return nil, fmt.Errorf("%w: marker %d has non-positive size", ErrBadGeometry, id)
		}

		members = append(members, Member{
			ID:   id,
			Size: vals[0],
			Pose: vision.Pose{
				Translation: [3]float64{vals[1], vals[2], vals[3]},
				Rotation:    vision.Quaternion{W: vals[4], X: vals[5], Y: vals[6], Z: vals[7]}.Normalize(),
			},
		})
	}
	return members, nil
}

// XML geometry document shape.
type xmlGeometry struct {
	XMLName xml.Name    `xml:"multimarker"`
	Markers int         `xml:"markers,attr"`
	Members []xmlMarker `xml:"marker"`
}

type xmlMarker struct {
	Index int     `xml:"index,attr"`
	Size  float64 `xml:"size,attr"`
	Pose  xmlPose `xml:"pose"`
}

type xmlPose struct {
	Tx float64 `xml:"tx,attr"`
	Ty float64 `xml:"ty,attr"`
	Tz float64 `xml:"tz,attr"`
	Qw float64 `xml:"qw,attr"`
	Qx float64 `xml:"qx,attr"`
	Qy float64 `xml:"qy,attr"`
	Qz float64 `xml:"qz,attr"`
}

// parseXMLGeometry reads the XML-tagged variant carrying the same geometry.
func parseXMLGeometry(data []byte) ([]Member, error) {
	var doc xmlGeometry
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadGeometry, err)
	}
	if len(doc.Members) == 0 {
		return nil, fmt.Errorf("%w: no marker elements", ErrBadGeometry)
	}
	if doc.Markers != 0 && doc.Markers != len(doc.Members) {
		return nil, fmt.Errorf("%w: markers attribute says %d, document has %d", ErrBadGeometry, doc.Markers, len(doc.Members))
	}

	members := make([]Member, 0, len(doc.Members))
	for _, m := range doc.Members {
		if m.Index < 0 {
			return nil, fmt.Errorf("%w: negative marker index %d", ErrBadGeometry, m.Index)
		}
		if m.Size <= 0 {
			return nil, fmt.Errorf("%w: marker %d has non-positive size", ErrBadGeometry, m.Index)
		}
		q := vision.Quaternion{W: m.Pose.Qw, X: m.Pose.Qx, Y: m.Pose.Qy, Z: m.Pose.Qz}
		if q == (vision.Quaternion{}) {
			q = vision.Identity()
		}
		members = append(members, Member{
			ID:   m.Index,
			Size: m.Size,
			Pose: vision.Pose{
				Translation: [3]float64{m.Pose.Tx, m.Pose.Ty, m.Pose.Tz},
				Rotation:    q.Normalize(),
			},
		})
	}
	return members, nil
}
