package shuffle

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	errors "github.com/go-sif/shuffle/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Configuration keys accepted in the extraConfigs supplied to InitializeExecutor
const (
	FileBufferSizeKey  = "shuffle.file.buffer"      // e.g. "32KiB"
	ChecksumEnabledKey = "shuffle.checksum.enabled" // "true" or "false"
	IndexCacheSizeKey  = "shuffle.index.cache.size" // number of index tables to keep in memory
	LogLevelKey        = "shuffle.log.level"        // a logrus level name
)

// Options configure the shuffle executor components
type Options struct {
	FileBufferSize     int    // size of the buffer in front of each map output data file, in bytes
	DisableChecksums   bool   // iff true, partition checksums are neither computed nor persisted
	IndexCacheSize     int    // the number of parsed index files to retain in memory
	SubDirsPerLocalDir int    // sub-directories per local directory, fixed when storage.NewRuntime lays them out
	LogLevel           string // the logrus level used for shuffle logging
}

// CloneOptions makes a copy of an Options
func CloneOptions(opts *Options) *Options {
	return &Options{
		FileBufferSize:     opts.FileBufferSize,
		DisableChecksums:   opts.DisableChecksums,
		IndexCacheSize:     opts.IndexCacheSize,
		SubDirsPerLocalDir: opts.SubDirsPerLocalDir,
		LogLevel:           opts.LogLevel,
	}
}

// EnsureDefaultOptionsValues fills in any options which were not supplied
func EnsureDefaultOptionsValues(opts *Options) {
	if opts.FileBufferSize <= 0 {
		opts.FileBufferSize = 32 * 1024
	}
	if opts.IndexCacheSize <= 0 {
		opts.IndexCacheSize = 1024
	}
	if opts.SubDirsPerLocalDir <= 0 {
		opts.SubDirsPerLocalDir = 64
	}
	if len(opts.LogLevel) == 0 {
		opts.LogLevel = logrus.InfoLevel.String()
	}
}

// MergeExtraConfigs produces a copy of opts, overridden by any recognized keys in extraConfigs
func MergeExtraConfigs(opts *Options, extraConfigs map[string]string) (*Options, error) {
	merged := CloneOptions(opts)
	EnsureDefaultOptionsValues(merged)
	v := viper.New()
	v.SetDefault(FileBufferSizeKey, strconv.Itoa(merged.FileBufferSize))
	v.SetDefault(ChecksumEnabledKey, strconv.FormatBool(!merged.DisableChecksums))
	v.SetDefault(IndexCacheSizeKey, strconv.Itoa(merged.IndexCacheSize))
	v.SetDefault(LogLevelKey, merged.LogLevel)
	for k, val := range extraConfigs {
		v.Set(k, val)
	}

	bufferSize, err := humanize.ParseBytes(v.GetString(FileBufferSizeKey))
	if err != nil || bufferSize == 0 {
		return nil, errors.ConfigurationError{Key: FileBufferSizeKey, Msg: fmt.Sprintf("%q is not a valid byte size", v.GetString(FileBufferSizeKey))}
	}
	merged.FileBufferSize = int(bufferSize)

	checksums, err := strconv.ParseBool(v.GetString(ChecksumEnabledKey))
	if err != nil {
		return nil, errors.ConfigurationError{Key: ChecksumEnabledKey, Msg: fmt.Sprintf("%q is not a boolean", v.GetString(ChecksumEnabledKey))}
	}
	merged.DisableChecksums = !checksums

	cacheSize, err := strconv.Atoi(v.GetString(IndexCacheSizeKey))
	if err != nil || cacheSize <= 0 {
		return nil, errors.ConfigurationError{Key: IndexCacheSizeKey, Msg: fmt.Sprintf("%q must be a positive integer", v.GetString(IndexCacheSizeKey))}
	}
	merged.IndexCacheSize = cacheSize

	if _, err := logrus.ParseLevel(v.GetString(LogLevelKey)); err != nil {
		return nil, errors.ConfigurationError{Key: LogLevelKey, Msg: err.Error()}
	}
	merged.LogLevel = v.GetString(LogLevelKey)
	return merged, nil
}
