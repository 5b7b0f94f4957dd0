package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Siddharth-777/ECHO/internal/channel"
	"github.com/Siddharth-777/ECHO/internal/config"
	"github.com/Siddharth-777/ECHO/internal/logging"
	"github.com/Siddharth-777/ECHO/internal/media"
	"github.com/Siddharth-777/ECHO/internal/peer"
	"github.com/Siddharth-777/ECHO/internal/session"
	"github.com/Siddharth-777/ECHO/internal/ui"
)

// logFileName is the TUI log file, created in the temp dir.
const logFileName = "echo.log"

var joinCmd = &cobra.Command{
	Use:     "join <room|invite-url>",
	Aliases: []string{"j"},
	Short:   "Join a room",
	Long: `Join a room and connect to every participant in it.

Examples:
  echo join demo1
  echo join https://echo.example.com/room/demo1 --name Alice
  echo join demo1 --audio voice.ogg --video cam.ivf --screen slides.ivf
  echo join demo1 --headless`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := ParseRoom(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return joinRoom(cmd.Context(), room, cfg)
	},
}

func init() {
	f := joinCmd.Flags()
	f.String(config.KeyName, "", "display name shown to other participants")
	f.String(config.KeyServer, "", "signaling server URL")
	f.StringSlice(config.KeySTUN, nil, "STUN server URL (repeatable)")
	f.String(config.KeyTURN, "", "TURN server host")
	f.String(config.KeyTURNUser, "", "TURN username")
	f.String(config.KeyTURNPass, "", "TURN password")
	f.Bool(config.KeyForceRelay, false, "force all traffic through the TURN server")
	f.String(config.KeyAudioFile, "", "Ogg/Opus file used as the microphone")
	f.String(config.KeyVideoFile, "", "IVF/VP8 file used as the camera")
	f.String(config.KeyScreenFile, "", "IVF/VP8 file used as the screen share")
	f.Bool(config.KeyHeadless, false, "run without the interactive UI")
	f.String(config.KeyLogLevel, "", "log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.NewViper(configFile())
	if err != nil {
		return nil, session.NewError("load config", err)
	}
	for _, key := range []string{
		config.KeyName, config.KeyServer, config.KeySTUN, config.KeyTURN,
		config.KeyTURNUser, config.KeyTURNPass, config.KeyForceRelay,
		config.KeyAudioFile, config.KeyVideoFile, config.KeyScreenFile,
		config.KeyHeadless, config.KeyLogLevel,
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return nil, session.NewError("bind flags", err)
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, session.NewError("load config", err)
	}
	return cfg, nil
}

func joinRoom(ctx context.Context, room string, cfg *config.Config) error {
	logFile, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	user, pass := cfg.GetTURNCredentials()
	factory, err := peer.NewPionFactory(peer.ICEConfig{
		STUNServers: cfg.STUNServers,
		TURNServers: cfg.GetTURNServers(),
		TURNUser:    user,
		TURNPass:    pass,
		ForceRelay:  cfg.ForceRelay,
	}, logging.For("webrtc"))
	if err != nil {
		return session.NewError("configure webrtc", err)
	}

	sess := session.New(session.Options{
		Room: room,
		Name: cfg.Name,
		Dial: func(ctx context.Context) (session.Channel, error) {
			c, err := channel.Dial(ctx, cfg.ServerURL, logging.For("channel"))
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Provider: &media.FileProvider{
			AudioFile:  cfg.AudioFile,
			VideoFile:  cfg.VideoFile,
			ScreenFile: cfg.ScreenFile,
			Logger:     logging.For("media"),
		},
		NewTransport: factory,
		Logger:       logging.For("session"),
	})

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	if cfg.Headless {
		runHeadless(sess, os.Stdin)
	} else if err := ui.RunRoom(room, sess); err != nil {
		sess.Do(session.Command{Kind: session.CommandLeave})
		<-sess.Done()
		return session.NewError("run ui", err)
	}

	if err := <-runErr; err != nil {
		return err
	}

	fmt.Println()
	ui.RenderSummary(os.Stdout, room, sess.Summary())
	return nil
}

// setupLogging sends logs to a file while the TUI owns the terminal and to
// stderr in headless mode.
func setupLogging(cfg *config.Config) (*os.File, error) {
	if cfg.Headless {
		logging.Init(cfg.LogLevel, os.Stderr)
		return nil, nil
	}
	path := filepath.Join(os.TempDir(), logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, session.NewError("open log file", err)
	}
	logging.Init(cfg.LogLevel, f)
	logging.For("cli").WithField("file", path).Debug("Logging to file")
	return f, nil
}

// runHeadless prints updates as plain lines and feeds stdin lines to the
// session until it ends.
func runHeadless(sess *session.Session, in io.Reader) {
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			cmd, err := session.ParseInput(line)
			if err != nil {
				ui.PrintErrorf("%v", err)
				continue
			}
			if !sess.Do(cmd) {
				return
			}
		}
		// EOF on stdin leaves the room.
		sess.Do(session.Command{Kind: session.CommandLeave})
	}()

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	defer stopSpinner()

	last := session.StatusStarting
	for u := range sess.Updates() {
		if u.Status != last {
			last = u.Status
			switch u.Status {
			case session.StatusConnecting:
			case session.StatusJoined:
				stopSpinner()
				ui.PrintSuccess(fmt.Sprintf("Joined %s as %s", u.Room, u.Self))
			case session.StatusDisconnected:
				stopSpinner()
				ui.PrintWarning("Disconnected from server")
			default:
				stopSpinner()
				ui.PrintInfof("Session %s", u.Status)
			}
		}
		if u.Chat != nil {
			fmt.Printf("%s %s %s: %s\n", u.Chat.At.Format("15:04"), ui.IconChat, u.Chat.Name, u.Chat.Text)
		}
		if u.Notice != "" {
			ui.PrintInfo(u.Notice)
		}
	}
}
