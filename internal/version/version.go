package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/pterm/pterm"
)

var (
	Name        = "keygate"
	Description = "API credential gateway"
	Version     = "v0.1.0"
	Commit      = "none"
	Date        = "nowish"
)

// PrintVersionInfo writes the startup banner. extendedInfo adds build
// metadata for --version.
func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	var b strings.Builder

	banner := pterm.NewStyle(pterm.FgCyan, pterm.Bold)
	b.WriteString(banner.Sprintf("%s %s", Name, Version))
	b.WriteString(pterm.NewStyle(pterm.FgGray).Sprintf(" · %s", Description))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s", Date))
	}

	vlog.Println(b.String())
}
