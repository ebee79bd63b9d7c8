package export

// Build information, overridden at link time:
//
//	go build -ldflags "-X .../internal/export.Version=v1.2.3 -X .../internal/export.GitSHA=$(git rev-parse --short HEAD)"
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ProducerName identifies this tool in manifests, catalog records, and
// notification events.
const ProducerName = "frame-exporter"

// releaseSHA returns GitSHA when the build stamped one, empty otherwise,
// so records omit the placeholder.
func releaseSHA() string {
	if GitSHA == "" || GitSHA == "unknown" {
		return ""
	}
	return GitSHA
}
