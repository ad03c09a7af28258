package recognition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Kagami/go-face"
)

type MockFaceEngine struct {
	RecognizeFunc    func(data []byte) ([]face.Face, error)
	RecognizeCNNFunc func(data []byte) ([]face.Face, error)
	CloseFunc        func()
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) RecognizeCNN(data []byte) ([]face.Face, error) {
	if m.RecognizeCNNFunc != nil {
		return m.RecognizeCNNFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

// writeModels creates placeholder model bundles so CheckModels passes.
func writeModels(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("model"), 0644); err != nil {
			t.Fatalf("failed to write model %s: %v", name, err)
		}
	}
	return dir
}

func loadedRecognizer(t *testing.T, mode DetectorMode, engine *MockFaceEngine) *DlibRecognizer {
	t.Helper()
	r := NewRecognizer(mode)
	r.factory = func(path string) (FaceEngine, error) {
		return engine, nil
	}
	if err := r.LoadModels(writeModels(t, RequiredModels...)); err != nil {
		t.Fatalf("LoadModels failed: %v", err)
	}
	return r
}
