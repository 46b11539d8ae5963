package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGeometry(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const textGeometry = `# two-marker bundle
2
0 9.0 0 0 0 1 0 0 0
5 9.0 12.5 0 0 1 0 0 0
`

const xmlGeometryDoc = `<multimarker markers="2">
  <marker index="0" size="9.0">
    <pose tx="0" ty="0" tz="0" qw="1" qx="0" qy="0" qz="0"/>
  </marker>
  <marker index="5" size="9.0">
    <pose tx="12.5" ty="0" tz="0" qw="1" qx="0" qy="0" qz="0"/>
  </marker>
</multimarker>
`

func TestLoadGeometry_TextFormat(t *testing.T) {
	members, err := LoadGeometry(writeGeometry(t, "bundle.txt", textGeometry))
	require.NoError(t, err)
	require.Len(t, members, 2)

	assert.Equal(t, 0, members[0].ID)
	assert.Equal(t, 9.0, members[0].Size)
	assert.Equal(t, 5, members[1].ID)
	assert.Equal(t, [3]float64{12.5, 0, 0}, members[1].Pose.Translation)
}

func TestLoadGeometry_FormatsAgree(t *testing.T) {
	text, err := LoadGeometry(writeGeometry(t, "bundle.txt", textGeometry))
	require.NoError(t, err)
	xml, err := LoadGeometry(writeGeometry(t, "bundle.xml", xmlGeometryDoc))
	require.NoError(t, err)

	assert.Equal(t, text, xml)
}

func TestLoadGeometry_XMLZeroQuaternionIsIdentity(t *testing.T) {
	doc := `<multimarker><marker index="3" size="4.0"><pose tx="1" ty="2" tz="3"/></marker></multimarker>`
	members, err := LoadGeometry(writeGeometry(t, "b.xml", doc))
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, 1.0, members[0].Pose.Rotation.W)
}

func TestLoadGeometry_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "empty file", file: "b.txt", content: ""},
		{name: "bad count", file: "b.txt", content: "x\n0 9 0 0 0 1 0 0 0\n"},
		{name: "count mismatch", file: "b.txt", content: "2\n0 9 0 0 0 1 0 0 0\n"},
		{name: "short marker line", file: "b.txt", content: "1\n0 9 0 0\n"},
		{name: "negative id", file: "b.txt", content: "1\n-4 9 0 0 0 1 0 0 0\n"},
		{name: "zero size", file: "b.txt", content: "1\n0 0 0 0 0 1 0 0 0\n"},
		{name: "garbled xml", file: "b.xml", content: "<multimarker><mar"},
		{name: "xml no markers", file: "b.xml", content: "<multimarker markers=\"0\"></multimarker>"},
		{name: "xml count mismatch", file: "b.xml", content: `<multimarker markers="3"><marker index="0" size="9"><pose qw="1"/></marker></multimarker>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadGeometry(writeGeometry(t, tt.file, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadGeometry)
		})
	}
}

func TestLoadGeometry_MissingFile(t *testing.T) {
	_, err := LoadGeometry(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}
