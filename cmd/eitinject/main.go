// Command eitinject demonstrates the eit package end to end: it reads a
// transport stream, runs it through an Injector configured from the
// command line, and writes the result back out.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/asticode/go-astikit"
	"github.com/pkg/profile"
	eit "github.com/tsduck/goeit"
)

var (
	inputPath   = flag.String("i", "", "input transport stream path (default stdin)")
	outputPath  = flag.String("o", "", "output transport stream path (default stdout)")
	pid         = flag.Int("pid", int(eit.PIDEIT), "PID to carry generated EIT sections")
	tsBitrate   = flag.Int("ts-bitrate", 0, "known transport stream bitrate in bits/sec (0: unknown)")
	maxEITRate  = flag.Int("max-eit-bitrate", 0, "bitrate cap for the EIT PID in bits/sec (0: unbounded)")
	genActual   = flag.Bool("eit-actual", false, "generate EIT-actual")
	genOther    = flag.Bool("eit-other", false, "generate EIT-other")
	genPF       = flag.Bool("eit-pf", false, "generate present/following")
	genSched    = flag.Bool("eit-schedule", false, "generate schedule")
	loadInput   = flag.Bool("load-input", true, "load events from input EIT sections")
	stuffing    = flag.Bool("packet-stuffing", true, "stuff the rest of a packet after each section instead of packing the next section into it")
	syncVers    = flag.Bool("sync-versions", false, "keep every section of a subtable on one version")
	cpuProfile  = flag.Bool("profile", false, "enable CPU profiling, written to the working directory")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *cpuProfile {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	}

	eit.SetLogger(astikit.AdaptStdLogger(log.Default()))

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	in, err := openInput()
	if err != nil {
		return fmt.Errorf("eitinject: opening input: %w", err)
	}
	if c, ok := in.(io.Closer); ok {
		defer c.Close()
	}

	out, err := openOutput()
	if err != nil {
		return fmt.Errorf("eitinject: opening output: %w", err)
	}
	if c, ok := out.(io.Closer); ok {
		defer c.Close()
	}

	reader, err := eit.NewPacketReader(in)
	if err != nil {
		return fmt.Errorf("eitinject: %w", err)
	}

	opts := buildOptions()
	inj := eit.NewInjector(uint16(*pid), opts, eit.SatelliteProfile(), eit.NewDatabase())
	inj.SetBitrate(*tsBitrate, *maxEITRate)

	for {
		pkt, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("eitinject: reading packet: %w", err)
		}
		if _, err := out.Write(inj.ProcessPacket(pkt)); err != nil {
			return fmt.Errorf("eitinject: writing packet: %w", err)
		}
	}
}

func buildOptions() eit.Options {
	opts := eit.ParseEITOptionsFlags(eit.EITOptionsFlags{
		Actual:   *genActual,
		Other:    *genOther,
		PF:       *genPF,
		Schedule: *genSched,
	})
	if *loadInput {
		opts |= eit.LoadInput
	}
	if *stuffing {
		opts |= eit.PacketStuffing
	}
	if *syncVers {
		opts |= eit.SyncVersions
	}
	return opts
}

func openInput() (io.Reader, error) {
	if *inputPath == "" {
		return os.Stdin, nil
	}
	return os.Open(*inputPath)
}

func openOutput() (io.Writer, error) {
	if *outputPath == "" {
		return os.Stdout, nil
	}
	return os.Create(*outputPath)
}
