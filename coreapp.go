package webbridge

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// CoreBridgeService is the service name of the built-in app plugin.
const CoreBridgeService = "CoreBridge"

// buttonCodes maps the button names pages use in overrideButton calls.
var buttonCodes = map[string]KeyCode{
	"volumeup":   KeyVolumeUp,
	"volumedown": KeyVolumeDown,
	"menubutton": KeyMenu,
}

// CoreAppPlugin is the built-in service the bridge fires script events
// through and pages drive shell behavior with: key overrides, history and
// cache control, page requests, and the exit signal. Registered
// automatically by Session.Init.
type CoreAppPlugin struct {
	env     *PluginEnv
	channel *CallbackContext // persistent page event channel, nil until registered
	log     *zap.Logger
}

func newCoreAppPlugin() *CoreAppPlugin {
	return &CoreAppPlugin{}
}

func (p *CoreAppPlugin) Initialize(env *PluginEnv) error {
	p.env = env
	p.log = env.Log
	return nil
}

// OnReset drops the page's message channel; the next page registers its own.
func (p *CoreAppPlugin) OnReset() {
	p.channel = nil
}

// FireScriptEvent delivers a named document event to the page: through the
// registered message channel when one exists, as a raw statement otherwise.
func (p *CoreAppPlugin) FireScriptEvent(event string) {
	if p.channel != nil {
		r := NewJSONResult(StatusOK, fmt.Sprintf(`{"action":%s}`, jsonQuote(event)))
		r.KeepCallback = true
		p.channel.Send(r)
		return
	}
	p.log.Debug("no message channel, sending event as script", zap.String("event", event))
	p.env.Session.SendScript(fmt.Sprintf("__webbridge.fireDocumentEvent(%s);", jsQuote(event)))
}

func (p *CoreAppPlugin) Exec(action string, args json.RawMessage, cb *CallbackContext) (bool, error) {
	s := p.env.Session
	argv := parseExecArgs(args)
	switch action {
	case "messageChannel":
		// The callback stays open for the session's document events; nothing
		// is delivered until the first one fires.
		p.channel = cb
		return true, nil

	case "overrideBackbutton":
		// Back is always claimable, the claim call cannot fail here.
		_ = s.SetButtonPlumbedToJS(KeyBack, argv.Bool(0, true))
		cb.Success("")
		return true, nil

	case "overrideButton":
		name := argv.String(0)
		code, ok := buttonCodes[name]
		if !ok {
			cb.Error("unknown button: " + name)
			return true, nil
		}
		if err := s.SetButtonPlumbedToJS(code, argv.Bool(1, true)); err != nil {
			cb.Error(err.Error())
			return true, nil
		}
		cb.Success("")
		return true, nil

	case "clearCache":
		s.ClearCache()
		cb.Success("")
		return true, nil

	case "clearHistory":
		s.ClearHistory()
		cb.Success("")
		return true, nil

	case "backHistory":
		s.BackHistory()
		cb.Success("")
		return true, nil

	case "loadUrl":
		url := argv.String(0)
		if url == "" {
			cb.Error("loadUrl: missing url")
			return true, nil
		}
		var props struct {
			OpenExternal bool `json:"openexternal"`
			ClearHistory bool `json:"clearhistory"`
		}
		argv.Object(1, &props)
		s.ShowWebPage(url, props.OpenExternal, props.ClearHistory)
		cb.Success("")
		return true, nil

	case "show":
		// Exec handlers run on the main context.
		s.Engine().SetVisible(true)
		cb.Success("")
		return true, nil

	case "exitApp":
		s.PostMessage("exit", nil)
		cb.Success("")
		return true, nil
	}
	return false, nil
}
