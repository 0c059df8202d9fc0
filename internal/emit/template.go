package emit

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/minio/crc64nvme"
)

var placeholder = regexp.MustCompile(`\[(name|id|contenthash|hash|ext|query)(?::(\d+))?\]`)

// PathData holds the values substituted into a filename template.
type PathData struct {
	Name        string
	ID          string
	ContentHash string
	// Ext includes the leading dot
	Ext   string
	Query string
}

// Interpolate expands [name], [id], [contenthash], [hash], [ext] and [query]
// in template. A length suffix such as [contenthash:8] truncates the hash.
func Interpolate(template string, data PathData) string {
	return placeholder.ReplaceAllStringFunc(template, func(token string) string {
		m := placeholder.FindStringSubmatch(token)
		var value string
		switch m[1] {
		case "name":
			value = data.Name
		case "id":
			value = data.ID
		case "contenthash", "hash":
			value = data.ContentHash
			if m[2] != "" {
				if n, err := strconv.Atoi(m[2]); err == nil && n < len(value) {
					value = value[:n]
				}
			}
		case "ext":
			value = data.Ext
		case "query":
			value = data.Query
		}
		return value
	})
}

// Hashed reports whether names produced from template embed a content hash.
func Hashed(template string) bool {
	for _, m := range placeholder.FindAllStringSubmatch(template, -1) {
		if m[1] == "contenthash" || m[1] == "hash" {
			return true
		}
	}
	return false
}

// ContentHash returns the CRC-64/NVME checksum of data as 16 hex characters.
func ContentHash(data []byte) string {
	return fmt.Sprintf("%016x", crc64nvme.Checksum(data))
}

// moduleData builds template values for an asset module.
func moduleData(id, hash string) PathData {
	base := path.Base(id)
	ext := path.Ext(base)
	return PathData{
		Name:        strings.TrimSuffix(base, ext),
		ID:          strings.TrimSuffix(id, ext),
		ContentHash: hash,
		Ext:         ext,
	}
}
