package main

import (
	"io"

	"github.com/go-sif/shuffle"
	"github.com/go-sif/shuffle/localdisk"
	"github.com/go-sif/shuffle/storage"
	"github.com/spf13/cobra"
)

func newWriteCommand() *cobra.Command {
	var shuffleID, mapID int
	var attempt int64
	var partitions []string
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Commit the output of one map task",
		Example: `  sifshuffle write --shuffle 0 --map 3 --partition aa --partition "" --partition bbbb`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, rt, err := newExecutor()
			if err != nil {
				return err
			}
			msg, err := writeMapOutput(c, rt, shuffleID, mapID, attempt, partitions)
			if err != nil {
				return err
			}
			return printJSON(msg)
		},
	}
	cmd.Flags().IntVarP(&shuffleID, "shuffle", "s", 0, "Shuffle ID")
	cmd.Flags().IntVarP(&mapID, "map", "m", 0, "Map ID")
	cmd.Flags().Int64Var(&attempt, "attempt", 0, "Map task attempt ID")
	cmd.Flags().StringArrayVarP(&partitions, "partition", "p", nil, "Contents of the next reduce partition, in order")
	return cmd
}

// writeMapOutput commits one map output, encoding every non-empty partition with the runtime's codec
func writeMapOutput(c *localdisk.ExecutorComponents, rt *storage.Runtime, shuffleID int, mapID int, attempt int64, partitions []string) (shuffle.MapOutputCommitMessage, error) {
	w, err := c.CreateMapOutputWriter(shuffleID, mapID, attempt, len(partitions))
	if err != nil {
		return shuffle.MapOutputCommitMessage{}, err
	}
	for i, p := range partitions {
		if len(p) == 0 {
			continue
		}
		if err := writePartition(w, rt, shuffle.BlockID{ShuffleID: shuffleID, MapID: mapID, ReduceID: i}, p); err != nil {
			w.Abort(err)
			return shuffle.MapOutputCommitMessage{}, err
		}
	}
	return w.CommitAllPartitions()
}

func writePartition(w shuffle.MapOutputWriter, rt *storage.Runtime, id shuffle.BlockID, contents string) error {
	pw, err := w.GetPartitionWriter(id.ReduceID)
	if err != nil {
		return err
	}
	s, err := pw.OpenStream()
	if err != nil {
		return err
	}
	encoded, err := rt.Codecs.WrapOutputStream(id, s)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(encoded, contents); err != nil {
		return err
	}
	if err := encoded.Close(); err != nil {
		return err
	}
	return s.Close()
}
