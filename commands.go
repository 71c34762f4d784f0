package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/soocke/qrdial-go/app"
	"github.com/soocke/qrdial-go/config"
	"github.com/soocke/qrdial-go/domain/capture"
	"github.com/soocke/qrdial-go/failure"
)

// reported hides errors the session already sent to the sink.
func reported(err error) error {
	if err != nil && failure.KindOf(err) != "" {
		return reportedError{err}
	}
	return err
}

func NewScanCommand() *cobra.Command {
	var (
		source   string
		device   string
		region   string
		message  string
		interval int
		timeout  time.Duration
		progress time.Duration
	)
	cmd := &cobra.Command{
		Use:     "scan",
		Short:   "Scan a QR code from the camera, the screen or replayed frames",
		GroupID: gScan,
		Long: `Scan a QR code from the camera, the screen or replayed frames.

Frames are polled until a payload containing a phone number is decoded. The
number is printed to stdout; with --message the messaging app is opened with
the number and message filled in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("source") {
				env.cfg.Source = source
			}
			if flags.Changed("device") {
				env.cfg.Device = device
			}
			if flags.Changed("interval") {
				env.cfg.PollIntervalMs = interval
			}
			if flags.Changed("region") {
				if err := env.cfg.SetRegion(region); err != nil {
					return err
				}
			}
			c, err := env.container()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			p, err := c.Scan(ctx, app.ScanOptions{Timeout: timeout, Message: message, Progress: progress})
			if err != nil {
				return reported(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&source, "source", config.SourceCamera, "capture source (camera, screen, replay)")
	f.StringVar(&device, "device", "", "camera device node, or image directory for the replay source")
	f.StringVar(&region, "region", "", "screen region x,y,w,h")
	f.IntVar(&interval, "interval", 200, "poll interval in milliseconds")
	f.StringVarP(&message, "message", "m", "", "open the messaging app with this message once a number is found")
	f.DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits until interrupted)")
	f.DurationVar(&progress, "progress", 0, "log scan progress at this interval")
	return cmd
}

func NewDecodeCommand() *cobra.Command {
	var (
		message string
		region  string
	)
	cmd := &cobra.Command{
		Use:     "decode <image>",
		Short:   "Read a phone number from a QR code in an image file",
		GroupID: gScan,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("region") {
				if err := env.cfg.SetRegion(region); err != nil {
					return err
				}
			}
			c, err := env.container()
			if err != nil {
				return err
			}
			defer c.Close()
			p, err := c.DecodeFile(cmd.Context(), args[0], message)
			if err != nil {
				return reported(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "open the messaging app with this message")
	cmd.Flags().StringVar(&region, "region", "", "only decode the region x,y,w,h of the image")
	return cmd
}

func NewExtractCommand() *cobra.Command {
	var lenient bool
	cmd := &cobra.Command{
		Use:     "extract [text]",
		Short:   "Extract a normalized phone number from text",
		GroupID: gOther,
		Long: `Extract a normalized phone number from text.

The text is taken from the arguments, or from stdin when none are given. Each
input line is handled separately; lines without a number are reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("lenient") {
				env.cfg.LenientFallback = lenient
			}
			ex := app.Extractor(env.cfg)
			inputs := []string{strings.Join(args, " ")}
			if len(args) == 0 {
				if inputs, err = readLines(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			var missed int
			for _, in := range inputs {
				if p, ok := ex.Extract(in); ok {
					fmt.Fprintln(cmd.OutOrStdout(), p)
					continue
				}
				missed++
				env.sink.Error(fmt.Sprintf("%s (%q)", failure.Message(failure.ErrExtractionFailed), in))
			}
			if missed > 0 {
				return reportedError{failure.New(failure.ExtractionFailed, nil)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&lenient, "lenient", false, "glue every digit of the text together when no pattern matches")
	return cmd
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func NewSendCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "send <number> <message>",
		Short:   "Open the messaging app with a number and message",
		GroupID: gOther,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			c, err := env.container()
			if err != nil {
				return err
			}
			defer c.Close()
			uri, err := c.Send(args[0], strings.Join(args[1:], " "))
			if err != nil {
				return reported(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
}

type listingProvider interface {
	capture.Provider
	capture.Lister
}

func NewDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Short:   "List capture devices",
		GroupID: gOther,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			listers := []listingProvider{
				capture.NewCameraProvider(env.logger),
				capture.NewScreenProvider(env.logger),
			}
			out := cmd.OutOrStdout()
			bold := color.New(color.Bold)
			for _, l := range listers {
				name := l.Name()
				devices, err := l.List()
				if err != nil {
					env.sink.Error(fmt.Sprintf("%s: %s", name, failure.Message(err)))
					continue
				}
				fmt.Fprintln(out, bold.Sprint(name+":"))
				if len(devices) == 0 {
					fmt.Fprintln(out, "  (none)")
				}
				for _, d := range devices {
					fmt.Fprintf(out, "  %-16s %s\n", d.ID, d.Description)
				}
			}
			return nil
		},
	}
}

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Show or initialize the configuration",
		GroupID: gOther,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(env.cfg)
		},
	}, &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the config path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.DefaultConfig().Save(configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), configPath)
			return nil
		},
	})
	return cmd
}
