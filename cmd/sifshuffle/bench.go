package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-sif/shuffle"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	pb "gopkg.in/cheggaaa/pb.v1"
)

func newBenchCommand() *cobra.Command {
	var numMaps, numPartitions, parallelism, shuffleID int
	var partitionSize string
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Write many map outputs concurrently, then read every block back",
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := humanize.ParseBytes(partitionSize)
			if err != nil {
				return err
			}
			if parallelism < 1 {
				return fmt.Errorf("parallel must be at least 1")
			}
			return runBench(shuffleID, numMaps, numPartitions, parallelism, int(size))
		},
	}
	cmd.Flags().IntVarP(&shuffleID, "shuffle", "s", 0, "Shuffle ID to write")
	cmd.Flags().IntVar(&numMaps, "maps", 64, "Number of map outputs")
	cmd.Flags().IntVar(&numPartitions, "partitions", 16, "Number of reduce partitions per map output")
	cmd.Flags().IntVar(&parallelism, "parallel", 4, "Number of concurrent map tasks")
	cmd.Flags().StringVar(&partitionSize, "partition-size", "64KiB", "Bytes written to each partition")
	return cmd
}

func runBench(shuffleID int, numMaps int, numPartitions int, parallelism int, partitionSize int) error {
	c, rt, err := newExecutor()
	if err != nil {
		return err
	}
	contents := string(bytes.Repeat([]byte("sif"), partitionSize/3+1)[:partitionSize])
	partitions := make([]string, numPartitions)
	for i := range partitions {
		partitions[i] = contents
	}

	bar := pb.New(numMaps)
	bar.Output = os.Stderr
	bar.Start()
	start := time.Now()
	mapIDs := make(chan int)
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer close(mapIDs)
		for m := 0; m < numMaps; m++ {
			select {
			case mapIDs <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < parallelism; i++ {
		g.Go(func() error {
			for mapID := range mapIDs {
				if _, err := writeMapOutput(c, rt, shuffleID, mapID, 0, partitions); err != nil {
					return err
				}
				bar.Increment()
			}
			return nil
		})
	}
	err = g.Wait()
	bar.Finish()
	if err != nil {
		return err
	}
	writeTime := time.Since(start)

	self := rt.Blocks.ShuffleServerID()
	blocks := make([]shuffle.BlockInfo, 0, numMaps*numPartitions)
	for m := 0; m < numMaps; m++ {
		for p := 0; p < numPartitions; p++ {
			blocks = append(blocks, shuffle.BlockInfo{BlockID: shuffle.BlockID{ShuffleID: shuffleID, MapID: m, ReduceID: p}, Location: &self, Length: -1})
		}
	}
	start = time.Now()
	it, err := c.GetPartitionReaders(blocks)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.HasNextStream() {
		s, err := it.NextStream()
		if err != nil {
			return err
		}
		if _, err := io.Copy(io.Discard, s); err != nil {
			return err
		}
	}
	readTime := time.Since(start)

	stats := c.Statistics()
	fmt.Fprintf(os.Stdout, "wrote %s in %d map outputs in %s\n", humanize.IBytes(uint64(stats.GetBytesWritten())), stats.GetNumOutputsCommitted(), writeTime)
	fmt.Fprintf(os.Stdout, "read %s from %d blocks in %s\n", humanize.IBytes(uint64(stats.GetBytesRead())), stats.GetNumStreamsOpened(), readTime)
	return nil
}
