package cli

import (
	"github.com/urfave/cli/v2"

	"github.com/gitsim/gitsim/serial"
)

// PortsAction lists the serial ports the application could connect through.
func PortsAction(c *cli.Context) error {
	ports, err := serial.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		warningf(c.App.ErrWriter, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		printf(c.App.Writer, "%s", p)
	}
	return nil
}
