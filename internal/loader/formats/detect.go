package formats

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aiserve/modelrouter/internal/descriptor"
)

var extensionFormats = map[string]descriptor.Format{
	".gguf":        descriptor.FormatGGUF,
	".onnx":        descriptor.FormatONNX,
	".safetensors": descriptor.FormatSafetensors,
	".pt":          descriptor.FormatPyTorch,
	".pth":         descriptor.FormatPyTorch,
	".bin":         descriptor.FormatBinary,
}

// DetectFormat infers a descriptor.Format for source using, in order: magic
// byte signature, companion file (config.json alongside the weights implies
// a Hugging Face hub checkout), then file extension. Returns false if no
// rule matches, leaving format selection to explicit descriptor config.
func DetectFormat(source string) (descriptor.Format, bool) {
	if format, ok := detectByMagic(source); ok {
		return format, true
	}
	if isHFCheckout(source) {
		return descriptor.FormatHF, true
	}
	ext := strings.ToLower(filepath.Ext(source))
	if format, ok := extensionFormats[ext]; ok {
		return format, true
	}
	return "", false
}

func detectByMagic(source string) (descriptor.Format, bool) {
	f, err := os.Open(source)
	if err != nil {
		return "", false
	}
	defer f.Close()

	buf := make([]byte, 4)
	n, err := io.ReadFull(f, buf)
	if err != nil || n < 4 {
		return "", false
	}

	for format, magic := range nativeMagic {
		if string(buf[:len(magic)]) == string(magic) {
			return format, true
		}
	}
	return "", false
}

// isHFCheckout reports whether source is a directory containing a
// config.json, the convention Hugging Face hub checkouts use.
func isHFCheckout(source string) bool {
	info, err := os.Stat(source)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(source, "config.json"))
	return err == nil
}
