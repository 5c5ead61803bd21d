package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var hierarchyCommand = &cli.Command{
	Name:  "hierarchy",
	Usage: "Print the raw view hierarchy of the connected device",
	Description: `Print the uiautomator XML dump exactly as the device returns it.

Examples:
  element-scheduler hierarchy
  element-scheduler hierarchy --device emulator-5554`,
	Action: runHierarchy,
}

func runHierarchy(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	dump, err := s.bridge.DumpHierarchy(c.Context)
	if err != nil {
		return fmt.Errorf("dump hierarchy: %w", err)
	}
	_, err = fmt.Fprintln(c.App.Writer, dump)
	return err
}
