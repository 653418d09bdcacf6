package main

import (
	"testing"

	"github.com/go-sif/shuffle"
	"github.com/go-sif/shuffle/codec"
	"github.com/stretchr/testify/require"
)

func TestParseBlockInfos(t *testing.T) {
	infos, err := parseBlockInfos(`[{"shuffle":0,"map":3,"reduce":2,"length":4,"checksum":7},{"shuffle":1,"map":2,"reduce":0}]`)
	require.Nil(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, shuffle.BlockID{ShuffleID: 0, MapID: 3, ReduceID: 2}, infos[0].BlockID)
	require.EqualValues(t, 4, infos[0].Length)
	require.EqualValues(t, 7, *infos[0].Checksum)
	require.EqualValues(t, -1, infos[1].Length)
	require.Nil(t, infos[1].Checksum)

	_, err = parseBlockInfos(`{"shuffle":0}`)
	require.NotNil(t, err)
	_, err = parseBlockInfos(`[{"shuffle":0,"map":1}]`)
	require.NotNil(t, err)
	_, err = parseBlockInfos(`[{`)
	require.NotNil(t, err)
}

func TestWriteAndInspect(t *testing.T) {
	newRootCommand()
	cfg.Set("dir", []string{t.TempDir()})
	cfg.Set("codec", codec.LZ4)
	c, rt, err := newExecutor()
	require.Nil(t, err)
	msg, err := writeMapOutput(c, rt, 0, 3, 0, []string{"aa", "", "bbbb"})
	require.Nil(t, err)
	require.Len(t, msg.PartitionLengths, 3)
	require.EqualValues(t, 0, msg.PartitionLengths[1])

	committed, err := c.CommittedMapOutput(0, 3)
	require.Nil(t, err)
	require.Equal(t, msg.PartitionLengths, committed.PartitionLengths)
}
