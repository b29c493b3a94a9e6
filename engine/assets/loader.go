package assets

import (
	"encoding/binary"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// bytesToBytecode reinterprets a little endian SPIR-V binary as words.
func bytesToBytecode(name string, b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		err := errors.Wrapf(core.ErrPipelineCompileFailure, "shader %s: size %d is not a whole number of words", name, len(b))
		core.LogError(err.Error())
		return nil, err
	}
	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if byteCode[0] != metadata.SPIRVMagic {
		err := errors.Wrapf(core.ErrPipelineCompileFailure, "shader %s: bad SPIR-V magic 0x%08x", name, byteCode[0])
		core.LogError(err.Error())
		return nil, err
	}
	return byteCode, nil
}

func determineAssetType(path string) metadata.ResourceType {
	name := strings.ToLower(path)
	if strings.HasSuffix(name, ".spv") {
		return metadata.ResourceTypeShader
	}
	switch filepath.Ext(name) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".webp":
		return metadata.ResourceTypeImage
	case ".obj":
		return metadata.ResourceTypeModel
	case ".mtl", ".bin":
		return metadata.ResourceTypeBinary
	default:
		return metadata.ResourceTypeNone
	}
}
