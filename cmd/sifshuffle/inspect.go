package main

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type mapOutputReport struct {
	ShuffleID        int      `json:"shuffle"`
	MapID            int      `json:"map"`
	Location         string   `json:"location"`
	Size             string   `json:"size"`
	Offsets          []int64  `json:"offsets"`
	PartitionLengths []int64  `json:"lengths"`
	Checksums        []uint64 `json:"checksums,omitempty"`
}

func newInspectCommand() *cobra.Command {
	var shuffleID, mapID int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Describe committed map output",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newExecutor()
			if err != nil {
				return err
			}
			msg, err := c.CommittedMapOutput(shuffleID, mapID)
			if err != nil {
				return err
			}
			offsets := make([]int64, len(msg.PartitionLengths)+1)
			for i, l := range msg.PartitionLengths {
				offsets[i+1] = offsets[i] + l
			}
			return printJSON(mapOutputReport{
				ShuffleID:        shuffleID,
				MapID:            mapID,
				Location:         msg.Location.String(),
				Size:             humanize.IBytes(uint64(offsets[len(offsets)-1])),
				Offsets:          offsets,
				PartitionLengths: msg.PartitionLengths,
				Checksums:        msg.Checksums,
			})
		},
	}
	cmd.Flags().IntVarP(&shuffleID, "shuffle", "s", 0, "Shuffle ID")
	cmd.Flags().IntVarP(&mapID, "map", "m", 0, "Map ID")
	return cmd
}
