package recon

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CameraFile is the on-disk list of candidate cameras
type CameraFile struct {
	Cameras []CameraEntry `yaml:"cameras" json:"cameras"`
}

// CameraEntry is one 4x4 row-major projection matrix. Row 2 maps depth;
// rows 0, 1 and 3 define the pinhole.
type CameraEntry struct {
	Name   string      `yaml:"name,omitempty" json:"name,omitempty"`
	Matrix [][]float64 `yaml:"matrix" json:"matrix"`
}

// LoadCameras reads candidate cameras from a YAML file
func LoadCameras(path string) ([]Mat4, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("camera file not found: %s", path)
		}
		return nil, fmt.Errorf("reading camera file: %w", err)
	}
	return ParseCameras(data)
}

// ParseCameras decodes a YAML camera list
func ParseCameras(data []byte) ([]Mat4, error) {
	var file CameraFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing camera YAML: %w", err)
	}
	if len(file.Cameras) == 0 {
		return nil, fmt.Errorf("at least one camera must be defined")
	}

	cams := make([]Mat4, len(file.Cameras))
	for i, entry := range file.Cameras {
		if len(entry.Matrix) != 4 {
			return nil, fmt.Errorf("camera[%d].matrix needs 4 rows, got %d", i, len(entry.Matrix))
		}
		for r, row := range entry.Matrix {
			if len(row) != 4 {
				return nil, fmt.Errorf("camera[%d].matrix row %d needs 4 values, got %d", i, r, len(row))
			}
			copy(cams[i][r][:], row)
		}
		if c := CameraCenter(cams[i]); c == (Point{}) {
			return nil, fmt.Errorf("camera[%d] has a degenerate projection", i)
		}
	}
	return cams, nil
}

// SaveCameras writes cameras in the LoadCameras format
func SaveCameras(path string, cams []Mat4) error {
	file := CameraFile{Cameras: make([]CameraEntry, len(cams))}
	for i, m := range cams {
		rows := make([][]float64, 4)
		for r := range rows {
			rows[r] = append([]float64(nil), m[r][:]...)
		}
		file.Cameras[i] = CameraEntry{Matrix: rows}
	}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling camera YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing camera file: %w", err)
	}
	return nil
}
