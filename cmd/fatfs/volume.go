package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"

	"github.com/rstms/fatfs"
	"github.com/rstms/fatfs/fat"
)

// volume is a mounted image with its device counters.
type volume struct {
	disk     *fatfs.FileDisk
	registry *prometheus.Registry
	fs       *fat.FileSystem
	root     fatfs.Entry
	stats    bool
}

func (a *app) mountOptions(readOnly bool) (fat.MountOptions, error) {
	policy, err := fat.ParseFreeCountPolicy(a.config.GetString("free_count_policy"))
	if err != nil {
		return fat.MountOptions{}, fatfs.Fatal(err)
	}
	return fat.MountOptions{
		ReadOnly:  readOnly || a.config.GetBool("readonly"),
		FreeCount: policy,
	}, nil
}

// open mounts the configured image. Commands that only read pass
// readOnly so the volume is left untouched.
func (a *app) open(readOnly bool) (*volume, error) {
	return a.openWith(readOnly, nil)
}

func (a *app) openWith(readOnly bool, policy *fat.FreeCountPolicy) (*volume, error) {
	image, err := a.imagePath()
	if err != nil {
		return nil, fatfs.Fatal(err)
	}
	opts, err := a.mountOptions(readOnly)
	if err != nil {
		return nil, fatfs.Fatal(err)
	}
	if policy != nil {
		opts.FreeCount = *policy
	}
	v := &volume{registry: prometheus.NewRegistry(), stats: a.config.GetBool("stats")}
	v.disk, err = fatfs.OpenDevice(image, opts.ReadOnly)
	if err != nil {
		return nil, fatfs.Fatal(err)
	}
	device, err := fatfs.NewInstrumentedDevice(v.disk, v.registry)
	if err != nil {
		v.disk.Close()
		return nil, fatfs.Fatal(err)
	}
	v.fs, err = fat.Mount(device, opts)
	if err != nil {
		v.disk.Close()
		return nil, fatfs.Fatal(err)
	}
	v.root, err = v.fs.RootDir()
	if err != nil {
		v.disk.Close()
		return nil, fatfs.Fatal(err)
	}
	log.Debugf("mounted %s read-only=%v policy=%s", image, opts.ReadOnly, opts.FreeCount)
	return v, nil
}

// close unmounts the volume, then prints the device counters when
// asked to.
func (v *volume) close(out io.Writer) error {
	err := v.fs.Close()
	if cerr := v.disk.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fatfs.Fatal(err)
	}
	if v.stats {
		return printStats(out, v.registry)
	}
	return nil
}

func (v *volume) lookup(pathname string) (fatfs.Entry, error) {
	entry, err := fatfs.Lookup(v.root, pathname)
	if err != nil {
		return nil, fatfs.Fatal(err)
	}
	return entry, nil
}

func printStats(out io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fatfs.Fatal(err)
	}
	lines := []string{}
	for _, family := range families {
		lines = append(lines, metricLines(family)...)
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	return nil
}

func metricLines(family *dto.MetricFamily) []string {
	lines := []string{}
	for _, metric := range family.GetMetric() {
		labels := []string{}
		for _, pair := range metric.GetLabel() {
			labels = append(labels, pair.GetName()+"="+pair.GetValue())
		}
		lines = append(lines, fmt.Sprintf("%s{%s} %g",
			family.GetName(), strings.Join(labels, ","), metric.GetCounter().GetValue()))
	}
	return lines
}
