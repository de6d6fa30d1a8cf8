// ABOUTME: Build and product identification
// ABOUTME: Version strings shown by the shell and logged at startup
package version

// Version is overridden at build time with -ldflags "-X .../internal/version.Version=..."
var Version = "0.1.0"

const (
	// Product is the client's display name
	Product = "Voicecall Go"

	// Manufacturer identifies the maintainers
	Manufacturer = "Resonate"
)

// String returns the product and version for headers and logs
func String() string {
	return Product + " " + Version
}
