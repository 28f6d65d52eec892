package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID(t *testing.T) {
	id, err := GenerateUUID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
}

func TestStoredName(t *testing.T) {
	a := StoredName("report.pdf", []byte("first"))
	b := StoredName("report.pdf", []byte("second"))

	assert.NotEqual(t, a, b, "same name, different bytes must not collide")
	assert.Equal(t, a, StoredName("report.pdf", []byte("first")))
	assert.Len(t, a, len("report.pdf")+13)
}

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"payslip.pdf":            "payslip.pdf",
		"../../etc/passwd":       "passwd",
		`C:\Users\me\salary.pdf`: "salary.pdf",
		"my file (1).pdf":        "my_file__1_.pdf",
		"":                       "upload.pdf",
	}
	for in, want := range cases {
		assert.Equal(t, want, SafeFilename(in), in)
	}
}

func TestCreateFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateFolder(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
