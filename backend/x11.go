package backend

import (
	"context"
	"fmt"
	"sync"

	x "github.com/linuxdeepin/go-x11-client"
	"github.com/linuxdeepin/go-x11-client/ext/randr"
	"golang.org/x/xerrors"

	"github.com/linuxdeepin/go-lib/log"
	"github.com/linuxdeepin/layoutd/layout"
)

var logger = log.NewLogger("layoutd/backend")

// X11Backend drives a real windowing system over the RandR extension. It
// keeps no cache of its own beyond what a single read needs; every call
// re-queries the server, the way the daemon's original screen-resources
// manager refreshed on every event rather than trusting stale state.
type X11Backend struct {
	conn *x.Conn
	root x.Window

	mu     sync.Mutex
	wg     sync.WaitGroup
	events chan Change
	done   chan struct{}
}

// NewX11Backend connects to the X server named by conn (already
// established by the caller) and arms RandR change notification.
func NewX11Backend(conn *x.Conn) (*X11Backend, error) {
	ver, err := randr.QueryVersion(conn, randr.MajorVersion, randr.MinorVersion).Reply(conn)
	if err != nil {
		return nil, xerrors.Errorf("backend: querying randr version: %w", err)
	}
	if ver.ServerMajorVersion < 1 || (ver.ServerMajorVersion == 1 && ver.ServerMinorVersion < 2) {
		return nil, xerrors.New("backend: randr >= 1.2 required")
	}

	b := &X11Backend{
		conn:   conn,
		root:   conn.GetDefaultScreen().Root,
		events: make(chan Change, 16),
		done:   make(chan struct{}),
	}
	if err := b.listen(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *X11Backend) listen() error {
	err := randr.SelectInputChecked(b.conn, b.root,
		randr.NotifyMaskOutputChange|randr.NotifyMaskCrtcChange|randr.NotifyMaskScreenChange).Check(b.conn)
	if err != nil {
		return xerrors.Errorf("backend: selecting randr input: %w", err)
	}
	eventChan := b.conn.MakeAndAddEventChan(50)
	rrExtData := b.conn.GetExtensionData(randr.Ext())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.done:
				return
			case ev, ok := <-eventChan:
				if !ok {
					return
				}
				switch ev.GetEventCode() {
				case randr.NotifyEventCode + rrExtData.FirstEvent:
					event, _ := randr.NewNotifyEvent(ev)
					switch event.SubCode {
					case randr.NotifyOutputChange:
						b.emit(Hotplug)
					case randr.NotifyCrtcChange:
						b.emit(ManualReconfigure)
					default:
						b.emit(Other)
					}
				case randr.ScreenChangeNotifyEventCode + rrExtData.FirstEvent:
					b.emit(ManualReconfigure)
				}
			}
		}
	}()
	return nil
}

// emit is only ever called from the relay goroutine's loop, synchronously
// between one iteration's select and the next, so by the time Close has
// waited on b.wg and closed b.events, no call to emit is still in flight.
func (b *X11Backend) emit(kind ChangeKind) {
	outputs, err := b.Outputs(context.Background())
	if err != nil {
		logger.Warning("backend: refreshing outputs after event:", err)
		return
	}
	select {
	case b.events <- Change{Kind: kind, Outputs: outputs}:
	default:
		logger.Warning("backend: event channel full, dropping change notification")
	}
}

// Outputs implements Backend.
func (b *X11Backend) Outputs(ctx context.Context) ([]Output, error) {
	resources, err := randr.GetScreenResourcesCurrent(b.conn, b.root).Reply(b.conn)
	if err != nil {
		return nil, xerrors.Errorf("backend: GetScreenResourcesCurrent: %w", err)
	}

	crtcByID := make(map[randr.Crtc]*randr.GetCrtcInfoReply, len(resources.Crtcs))
	for _, crtc := range resources.Crtcs {
		info, err := randr.GetCrtcInfo(b.conn, crtc, resources.ConfigTimestamp).Reply(b.conn)
		if err != nil || info.Status != randr.StatusSuccess {
			continue
		}
		crtcByID[crtc] = info
	}
	modeByID := make(map[randr.Mode]randr.ModeInfo, len(resources.Modes))
	for _, mi := range resources.Modes {
		modeByID[randr.Mode(mi.Id)] = mi
	}

	var out []Output
	for _, outputID := range resources.Outputs {
		info, err := randr.GetOutputInfo(b.conn, outputID, resources.ConfigTimestamp).Reply(b.conn)
		if err != nil || info.Status != randr.StatusSuccess {
			continue
		}
		if info.Connection != randr.ConnectionConnected {
			continue
		}
		o := Output{
			ID:   uint32(outputID),
			Name: string(info.Name),
		}
		if edid, err := b.outputEDID(outputID); err == nil {
			o.EDID = edid
		}
		if info.Crtc != 0 {
			if ci, ok := crtcByID[info.Crtc]; ok {
				o.Enabled = true
				o.Pos = layout.Pair{X: int(ci.X), Y: int(ci.Y)}
				o.Size = layout.Size{W: int(ci.Width), H: int(ci.Height)}
				o.ModeWidth, o.ModeHeight = int(ci.Width), int(ci.Height)
				o.Rotation = ci.Rotation
			}
		} else if preferred, ok := modeByID[info.GetPreferredMode()]; ok {
			// Not yet assigned a crtc: size the core should pack it with
			// comes from its preferred mode, the same fallback the
			// teacher's monitor setup uses (outputInfo.GetPreferredMode())
			// before any crtc has been configured.
			o.Size = layout.Size{W: int(preferred.Width), H: int(preferred.Height)}
		}
		out = append(out, o)
	}
	return out, nil
}

func (b *X11Backend) outputEDID(output randr.Output) ([]byte, error) {
	atomEDID, err := b.conn.GetAtom("EDID")
	if err != nil {
		return nil, err
	}
	reply, err := randr.GetOutputProperty(b.conn, output, atomEDID, x.AtomInteger, 0, 32, false, false).Reply(b.conn)
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// VirtualScreenBounds implements Backend.
func (b *X11Backend) VirtualScreenBounds(ctx context.Context) (layout.Bounds, error) {
	r, err := randr.GetScreenSizeRange(b.conn, b.root).Reply(b.conn)
	if err != nil {
		return layout.Bounds{}, xerrors.Errorf("backend: GetScreenSizeRange: %w", err)
	}
	return layout.Bounds{
		WMin: int(r.MinWidth), HMin: int(r.MinHeight),
		WMax: int(r.MaxWidth), HMax: int(r.MaxHeight),
	}, nil
}

// Apply implements Backend: it sets the virtual-screen size first (RandR
// rejects a CRTC position that would fall outside the current screen
// size), then repositions each output's existing CRTC, leaving mode and
// rotation exactly as they were.
func (b *X11Backend) Apply(ctx context.Context, w, h int, placements []Placement) error {
	// mm dimensions are derived from pixel size via the same 3.792
	// px/mm DPI assumption the rest of this daemon family uses when no
	// better physical measurement is available.
	mmWidth := uint32(float64(w) / 3.792)
	mmHeight := uint32(float64(h) / 3.792)
	err := randr.SetScreenSizeChecked(b.conn, b.root, uint16(w), uint16(h), mmWidth, mmHeight).Check(b.conn)
	if err != nil {
		return xerrors.Errorf("backend: SetScreenSize: %w", err)
	}

	resources, err := randr.GetScreenResourcesCurrent(b.conn, b.root).Reply(b.conn)
	if err != nil {
		return xerrors.Errorf("backend: GetScreenResourcesCurrent: %w", err)
	}
	for _, p := range placements {
		outputID := randr.Output(p.ID)
		info, err := randr.GetOutputInfo(b.conn, outputID, resources.ConfigTimestamp).Reply(b.conn)
		if err != nil || info.Status != randr.StatusSuccess || info.Crtc == 0 {
			return fmt.Errorf("backend: output %d has no active crtc to move", p.ID)
		}
		ci, err := randr.GetCrtcInfo(b.conn, info.Crtc, resources.ConfigTimestamp).Reply(b.conn)
		if err != nil || ci.Status != randr.StatusSuccess {
			return fmt.Errorf("backend: reading crtc info for output %d: %w", p.ID, err)
		}
		setCfg, err := randr.SetCrtcConfig(b.conn, info.Crtc, 0, resources.ConfigTimestamp,
			int16(p.Pos.X), int16(p.Pos.Y), ci.Mode, ci.Rotation, ci.Outputs).Reply(b.conn)
		if err != nil {
			return xerrors.Errorf("backend: SetCrtcConfig for output %d: %w", p.ID, err)
		}
		if setCfg.Status != randr.StatusSuccess {
			return fmt.Errorf("backend: SetCrtcConfig for output %d returned status %v", p.ID, setCfg.Status)
		}
	}
	return nil
}

// Events implements Backend.
func (b *X11Backend) Events() <-chan Change {
	return b.events
}

// Close implements Backend.
func (b *X11Backend) Close() error {
	b.mu.Lock()
	closed := false
	select {
	case <-b.done:
	default:
		close(b.done)
		closed = true
	}
	b.mu.Unlock()
	if closed {
		// Wait for the relay goroutine to observe b.done and return
		// before closing b.events, so emit never sends on a closed
		// channel.
		b.wg.Wait()
		close(b.events)
	}
	return nil
}
