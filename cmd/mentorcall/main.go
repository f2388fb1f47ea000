// mentorcall: CLI entry point for one side of a mentor/mentee video call.
//
// The call runs peer-to-peer over WebRTC; the relay only carries signaling
// and the chat fallback. Missing flags are read from MENTORCALL_* variables
// and then prompted for interactively.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/1ureka/mentorcall/internal/backend"
	"github.com/1ureka/mentorcall/internal/call"
	"github.com/1ureka/mentorcall/internal/chat"
	"github.com/1ureka/mentorcall/internal/config"
	"github.com/1ureka/mentorcall/internal/media"
	"github.com/1ureka/mentorcall/internal/transport"
	"github.com/1ureka/mentorcall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	callID := flag.String("call", config.Getenv("MENTORCALL_CALL_ID", ""), "Call id")
	userID := flag.String("user", config.Getenv("MENTORCALL_USER_ID", ""), "Local user id")
	username := flag.String("name", config.Getenv("MENTORCALL_USERNAME", ""), "Display name shown in chat")
	roleFlag := flag.String("role", config.Getenv("MENTORCALL_ROLE", ""), "Role: mentor or mentee")
	signalURL := flag.String("signal", config.Getenv("MENTORCALL_SIGNAL_URL", ""), "Relay websocket URL")
	apiURL := flag.String("api", config.Getenv("MENTORCALL_API_URL", ""), "Backend REST base URL (empty disables /start and /end)")
	credsURL := flag.String("credentials", config.Getenv("MENTORCALL_CREDENTIALS_URL", ""), "Relay TURN credential endpoint")
	token := flag.String("token", config.Getenv("MENTORCALL_TOKEN", ""), "Bearer token for the backend and the relay")
	iceFlag := flag.String("ice", config.Getenv("MENTORCALL_ICE_SERVERS", ""), "Pinned ICE servers: url[|user|credential],...")
	synthetic := flag.Bool("synthetic", false, "Send silent synthetic media instead of opening devices")
	noVideo := flag.Bool("no-video", false, "Audio only")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("mentorcall v%s", version))
	pterm.Println()

	if *callID == "" {
		*callID = askText("Call id")
	}
	if *userID == "" {
		*userID = askText("Your user id")
	}
	role, err := config.ParseRole(*roleFlag)
	if err != nil {
		if *roleFlag != "" {
			util.LogError("%v", err)
			os.Exit(1)
		}
		role = askRole()
	}
	if *signalURL == "" {
		*signalURL = askText("Relay URL (e.g. wss://relay.example.com)")
	}
	wsURL, err := normalizeWSURL(*signalURL)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *username == "" {
		*username = string(role)
	}

	cfg := &config.Config{
		CallID:    strings.TrimSpace(*callID),
		User:      config.User{ID: strings.TrimSpace(*userID), Username: *username, Role: role},
		SignalURL: wsURL,
		APIURL:    *apiURL,
		Token:     *token,
		Timing:    config.LoadTiming(),
		Debug:     *debugMode,
	}
	if *iceFlag != "" {
		cfg.ICEServers = config.ParseICEServers(*iceFlag)
	}

	capturer, register := pickCapturer(*synthetic, *noVideo)
	opts := call.Options{
		Config:         cfg,
		Capturer:       capturer,
		RegisterCodecs: register,
	}

	client := backend.New(backend.Options{
		BaseURL:        cfg.APIURL,
		CredentialsURL: *credsURL,
		Token:          cfg.Token,
		Timeout:        cfg.Timing.RequestTimeout,
	})
	if cfg.APIURL != "" {
		opts.Notifier = client
	}
	if *credsURL != "" {
		opts.Credentials = client
	}

	session, err := call.New(opts)
	if err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	util.StartStatsReporter(ctx)
	go render(session)
	go readCommands(session)

	if err := session.Run(ctx); err != nil {
		reportFailure(err)
		os.Exit(1)
	}
	util.LogInfo("call finished")
}

// ---------------------------------------------------------------------------
// Session I/O
// ---------------------------------------------------------------------------

// render prints session events until the session closes the stream.
func render(s *call.Session) {
	for ev := range s.Events() {
		switch ev.Kind {
		case call.EventState:
			if ev.State == call.StateConnected {
				util.LogSuccess("call connected, %s left", util.FormatClock(s.TimeLeft()))
			} else {
				util.LogInfo("call %s", ev.State)
			}
		case call.EventTick:
			if ev.TimeLeft%60 == 0 || ev.TimeLeft <= 10 {
				util.LogInfo("time left %s", util.FormatClock(ev.TimeLeft))
			}
		case call.EventChat:
			pterm.Printfln("%s %s", pterm.Cyan(ev.Message.Sender+":"), ev.Message.Text)
		case call.EventWarning:
			util.LogWarning("%s", ev.Text)
		case call.EventRemoteTrack:
			util.LogSuccess("receiving remote %s", ev.Text)
		}
	}
}

// readCommands reads chat lines and slash commands from stdin.
func readCommands(s *call.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, arg := parseCommand(scanner.Text())
		switch cmd {
		case "":
		case "end":
			s.Hangup()
			return
		case "mute":
			live, err := s.ToggleAudio()
			reportToggle("microphone", live, err)
		case "video":
			live, err := s.ToggleVideo()
			reportToggle("camera", live, err)
		case "transcript":
			for _, m := range s.Transcript() {
				pterm.Printfln("[%s] %s: %s", m.Timestamp, m.Sender, m.Text)
			}
		case "say":
			if _, err := s.SendChat(arg); err != nil {
				var df *chat.DeliveryFailureError
				if errors.As(err, &df) {
					util.LogError("message not delivered: %v", err)
				} else {
					util.LogWarning("%v", err)
				}
			}
		default:
			util.LogWarning("unknown command /%s (try /end, /mute, /video, /transcript)", cmd)
		}
	}
}

// parseCommand splits an input line into a command and its argument. Plain
// text is the "say" command.
func parseCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	if !strings.HasPrefix(line, "/") {
		return "say", line
	}
	cmd, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func reportToggle(device string, live bool, err error) {
	switch {
	case err != nil:
		util.LogWarning("cannot toggle %s: %v", device, err)
	case live:
		util.LogInfo("%s on", device)
	default:
		util.LogInfo("%s off", device)
	}
}

func reportFailure(err error) {
	var cf *call.ConnectivityFailureError
	var mu *media.MediaUnavailableError
	switch {
	case errors.As(err, &cf):
		util.LogError("connection failed, please retry the call (%v)", err)
	case errors.As(err, &mu):
		util.LogError("%s (%v)", mu.Hint(), err)
	default:
		util.LogError("call failed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// pickCapturer returns the device capturer with its codec registrar, or
// synthetic media when requested or when devices cannot be opened.
func pickCapturer(synthetic, noVideo bool) (media.Capturer, transport.CodecRegistrar) {
	if synthetic {
		return &media.SyntheticCapturer{NoVideo: noVideo}, nil
	}
	dc, err := media.NewDeviceCapturer()
	if err != nil {
		util.LogWarning("capture devices unavailable (%v), sending synthetic media", err)
		return &media.SyntheticCapturer{NoVideo: noVideo}, nil
	}
	return dc, dc.RegisterCodecs
}

// normalizeWSURL validates a relay URL and points it at the /ws endpoint.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	scheme := "wss"
	switch u.Scheme {
	case "ws", "http":
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askText prompts until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		pterm.Println()
		if v := strings.TrimSpace(raw); v != "" {
			return v
		}
		util.LogWarning("a value is required")
	}
}

func askRole() config.Role {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Mentor - starts the call", "Mentee - joins the call"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()
	if strings.HasPrefix(choice, "Mentor") {
		return config.RoleMentor
	}
	return config.RoleMentee
}
