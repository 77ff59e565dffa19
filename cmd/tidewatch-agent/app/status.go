package app

import (
	"fmt"
	"io"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/tidewatch-io/tidewatch/internal/agent/flash"
	"github.com/tidewatch-io/tidewatch/internal/agent/version"
	genericoptions "github.com/tidewatch-io/tidewatch/pkg/options"
)

// newStatusCommand builds the subcommand that prints the local firmware state.
// It reads the same on-disk stores the agent uses, so it works whether or not
// the agent is running.
func newStatusCommand() *cobra.Command {
	stateDir := genericoptions.NewOTAOptions().StateDir

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the installed firmware version and the slot layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(cmd.OutOrStdout(), stateDir)
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", stateDir, "Directory holding firmware slots and the installed-version record.")

	return cmd
}

func printStatus(w io.Writer, stateDir string) error {
	versions := version.NewStore(stateDir, nil)
	rec, ok, err := versions.Get()
	if err != nil {
		return fmt.Errorf("read version record: %w", err)
	}

	device, err := flash.OpenFileDevice(stateDir, nil)
	if err != nil {
		return fmt.Errorf("open slot store: %w", err)
	}
	slots, err := device.Slots()
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}

	summary := uitable.New()
	summary.MaxColWidth = 60
	summary.Wrap = true
	if ok {
		summary.AddRow("Firmware:", rec.Title)
		summary.AddRow("Version:", rec.Version)
		summary.AddRow("Confirmed:", yesNo(rec.Confirmed))
	} else {
		summary.AddRow("Firmware:", "none recorded")
	}
	summary.AddRow("Active slot:", activeSlotLabel(device.ActiveSlot()))
	fmt.Fprintln(w, summary)
	fmt.Fprintln(w)

	layout := uitable.New()
	layout.AddRow("SLOT", "SIZE", "ACTIVE", "STAGED")
	for _, s := range slots {
		layout.AddRow(s.Name, s.Size, yesNo(s.Active), yesNo(s.Staged))
	}
	fmt.Fprintln(w, layout)

	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// activeSlotLabel names the factory state explicitly instead of printing an
// empty cell.
func activeSlotLabel(slot string) string {
	if slot == "" {
		return "none"
	}
	return slot
}
