// Package mcptool exposes connector operations as MCP tools over stdio.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/watchlink/internal/connector"
	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

const (
	ServerName    = "watchlink"
	ServerVersion = "0.1.0"
)

// Link is the connector surface the tools drive.
type Link interface {
	Connect(name, address string) error
	Disconnect() error
	Status() connector.Status
	NextCookie() uint32
	PingWait(ctx context.Context, cookie uint32) (time.Duration, error)
	SendNotification(lead protocol.LeadType, sender, body, subject string) error
	SendMusicNowPlaying(track, album, artist string) error
}

type Server struct {
	link    Link
	log     zerolog.Logger
	timeout time.Duration
	mcp     *server.MCPServer
}

func New(link Link, log zerolog.Logger) *Server {
	s := &Server{
		link:    link,
		log:     log,
		timeout: 5 * time.Second,
		mcp:     server.NewMCPServer(ServerName, ServerVersion),
	}
	s.mcp.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report the watch connection state and identity"),
	), s.status)
	s.mcp.AddTool(mcp.NewTool("connect",
		mcp.WithDescription("Connect to a watch by name or address; both empty scans for any watch"),
		mcp.WithString("name", mcp.Description("Advertised device name")),
		mcp.WithString("address", mcp.Description("Bluetooth address or host:port")),
	), s.connect)
	s.mcp.AddTool(mcp.NewTool("disconnect",
		mcp.WithDescription("Drop the link and forget the device"),
	), s.disconnect)
	s.mcp.AddTool(mcp.NewTool("ping",
		mcp.WithDescription("Ping the watch and report the round trip"),
	), s.ping)
	s.mcp.AddTool(mcp.NewTool("notify",
		mcp.WithDescription("Show a notification on the watch"),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("sms", "email", "facebook", "twitter")),
		mcp.WithString("sender", mcp.Required()),
		mcp.WithString("body", mcp.Required()),
		mcp.WithString("subject", mcp.Description("Email subject")),
	), s.notify)
	s.mcp.AddTool(mcp.NewTool("now_playing",
		mcp.WithDescription("Update the music app's track details"),
		mcp.WithString("track", mcp.Required()),
		mcp.WithString("album"),
		mcp.WithString("artist"),
	), s.nowPlaying)
	return s
}

// Serve speaks MCP on in/out until ctx ends or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.log.Info().Msg("mcp.serve stdio")
	defer s.log.Info().Msg("mcp.serve stopped")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) status(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(s.link.Status())
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) connect(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	name, address := stringArg(args, "name"), stringArg(args, "address")
	if err := s.link.Connect(name, address); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("connecting name=%q address=%q", name, address)), nil
}

func (s *Server) disconnect(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.link.Disconnect(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("disconnecting"), nil
}

func (s *Server) ping(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cookie := s.link.NextCookie()
	rtt, err := s.link.PingWait(ctx, cookie)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("pong cookie=%d rtt=%s", cookie, rtt)), nil
}

func (s *Server) notify(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	var lead protocol.LeadType
	switch kind := stringArg(args, "kind"); kind {
	case "sms":
		lead = protocol.LeadSMS
	case "email":
		lead = protocol.LeadEmail
	case "facebook":
		lead = protocol.LeadFacebook
	case "twitter":
		lead = protocol.LeadTwitter
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown notification kind %q", kind)), nil
	}
	err := s.link.SendNotification(lead, stringArg(args, "sender"), stringArg(args, "body"), stringArg(args, "subject"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("queued " + lead.String()), nil
}

func (s *Server) nowPlaying(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	err := s.link.SendMusicNowPlaying(stringArg(args, "track"), stringArg(args, "album"), stringArg(args, "artist"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("queued now_playing"), nil
}

func arguments(req mcp.CallToolRequest) map[string]any {
	return req.GetArguments()
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
