package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-sif/shuffle"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func newReadCommand() *cobra.Command {
	var blocks string
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read blocks, in order, and print their decoded contents",
		Example: `  sifshuffle read --blocks '[{"shuffle":0,"map":3,"reduce":0,"length":2},{"shuffle":0,"map":3,"reduce":2}]'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := parseBlockInfos(blocks)
			if err != nil {
				return err
			}
			c, rt, err := newExecutor()
			if err != nil {
				return err
			}
			self := rt.Blocks.ShuffleServerID()
			for i := range infos {
				infos[i].Location = &self
			}
			it, err := c.GetPartitionReaders(infos)
			if err != nil {
				return err
			}
			defer it.Close()
			for it.HasNextStream() {
				s, err := it.NextStream()
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				fmt.Fprintf(os.Stdout, "%s\t", s.BlockID())
				if _, err := io.Copy(os.Stdout, s); err != nil {
					fmt.Fprintln(os.Stdout)
					return err
				}
				fmt.Fprintln(os.Stdout)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&blocks, "blocks", "b", "[]", "JSON array of block descriptors")
	return cmd
}

// parseBlockInfos parses block descriptors. A missing length means the length is unknown, and a
// missing checksum means the block is not verified.
func parseBlockInfos(descriptors string) ([]shuffle.BlockInfo, error) {
	if !gjson.Valid(descriptors) {
		return nil, fmt.Errorf("Block descriptors are not valid JSON")
	}
	parsed := gjson.Parse(descriptors)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("Block descriptors must be a JSON array")
	}
	infos := make([]shuffle.BlockInfo, 0)
	var err error
	parsed.ForEach(func(_, block gjson.Result) bool {
		for _, field := range []string{"shuffle", "map", "reduce"} {
			if !block.Get(field).Exists() {
				err = fmt.Errorf("Block descriptor %s is missing %q", block.Raw, field)
				return false
			}
		}
		info := shuffle.BlockInfo{
			BlockID: shuffle.BlockID{
				ShuffleID: int(block.Get("shuffle").Int()),
				MapID:     int(block.Get("map").Int()),
				ReduceID:  int(block.Get("reduce").Int()),
			},
			Length: -1,
		}
		if length := block.Get("length"); length.Exists() {
			info.Length = length.Int()
		}
		if checksum := block.Get("checksum"); checksum.Exists() {
			sum := checksum.Uint()
			info.Checksum = &sum
		}
		infos = append(infos, info)
		return true
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}
