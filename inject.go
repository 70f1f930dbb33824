package webbridge

import (
	"strings"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"
)

// bootstrapJS is the in-page runtime the bridge drives: the callback
// registry, document events, the exec plumbing, and the packed-message
// decoder. Kept readable here; minified once at first use. Idempotent so
// engines and the eval mode may both inject it.
const bootstrapJS = `(function () {
	if (globalThis.__webbridge) return;
	var callbacks = {};
	var listeners = {};
	var counter = 0;
	var B64 = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var wb = {
		secret: -1,
		addDocumentListener: function (name, fn) {
			(listeners[name] = listeners[name] || []).push(fn);
		},
		fireDocumentEvent: function (name, data) {
			var fns = listeners[name] || [];
			for (var i = 0; i < fns.length; i++) {
				try { fns[i]({ type: name, data: data }); } catch (e) {}
			}
		},
		callbackFromNative: function (id, ok, status, args, keep) {
			var cb = callbacks[id];
			if (!cb) return;
			if (!keep) delete callbacks[id];
			if (ok) { if (cb.success) cb.success.apply(null, args); }
			else if (cb.fail) cb.fail.apply(null, args);
		},
		exec: function (service, action, args, success, fail) {
			var id = 'wb' + (++counter);
			callbacks[id] = { success: success, fail: fail };
			if (typeof __wb_exec !== 'function') return id;
			var packed = __wb_exec(wb.secret, service, action, id, JSON.stringify(args || []));
			if (packed) wb.processPacked(packed);
			return id;
		},
		retrieve: function () {
			if (typeof __wb_retrieve !== 'function') return;
			var packed = __wb_retrieve(wb.secret);
			if (packed) wb.processPacked(packed);
		},
		processPacked: function (payload) {
			var again = false;
			if (payload.charAt(payload.length - 1) === '*') {
				again = true;
				payload = payload.slice(0, -1);
			}
			var pos = 0;
			while (pos < payload.length) {
				var sp = payload.indexOf(' ', pos);
				var len = parseInt(payload.slice(pos, sp), 10);
				wb.processMessage(payload.substr(sp + 1, len));
				pos = sp + 1 + len;
			}
			if (again) wb.retrieve();
		},
		processMessage: function (msg) {
			var kind = msg.charAt(0);
			if (kind === 'J') {
				(0, eval)(msg.slice(1));
				return;
			}
			if (kind !== 'S' && kind !== 'F') return;
			var ok = kind === 'S';
			var keep = msg.charAt(1) === '1';
			var sp1 = msg.indexOf(' ', 2);
			var status = +msg.slice(2, sp1);
			var sp2 = msg.indexOf(' ', sp1 + 1);
			var id = msg.slice(sp1 + 1, sp2);
			var body = msg.slice(sp2 + 1);
			var decoded = wb.decodeBody(body);
			var args = body.charAt(0) === 'M' ? decoded : [decoded];
			wb.callbackFromNative(id, ok, status, args, keep);
		},
		decodeBody: function (body) {
			var t = body.charAt(0);
			var rest = body.slice(1);
			if (t === 's') return rest;
			if (t === 'n') return +rest;
			if (t === 't') return true;
			if (t === 'f') return false;
			if (t === 'N') return null;
			if (t === 'A') return wb.b64ToBuf(rest);
			if (t === 'S') return wb.b64ToStr(rest);
			if (t === 'M') {
				var parts = [];
				var pos = 0;
				while (pos < rest.length) {
					var sp = rest.indexOf(' ', pos);
					var len = parseInt(rest.slice(pos, sp), 10);
					parts.push(wb.decodeBody(rest.substr(sp + 1, len)));
					pos = sp + 1 + len;
				}
				return parts;
			}
			try { return JSON.parse(body); } catch (e) { return body; }
		},
		b64Bytes: function (s) {
			var out = [];
			var buf = 0;
			var bits = 0;
			for (var i = 0; i < s.length; i++) {
				var v = B64.indexOf(s.charAt(i));
				if (v < 0) continue;
				buf = (buf << 6) | v;
				bits += 6;
				if (bits >= 8) {
					bits -= 8;
					out.push((buf >> bits) & 255);
				}
			}
			return out;
		},
		b64ToStr: function (s) {
			var b = wb.b64Bytes(s);
			var r = '';
			for (var i = 0; i < b.length; i++) r += String.fromCharCode(b[i]);
			return r;
		},
		b64ToBuf: function (s) {
			var b = wb.b64Bytes(s);
			if (typeof Uint8Array === 'function') {
				var u = new Uint8Array(b.length);
				for (var i = 0; i < b.length; i++) u[i] = b[i];
				return u.buffer;
			}
			return b;
		}
	};
	globalThis.__webbridge = wb;
	if (typeof __wb_handshake === 'function') {
		wb.secret = __wb_handshake(1);
		wb.exec('CoreBridge', 'messageChannel', [], function (msg) {
			if (msg && msg.action) wb.fireDocumentEvent(msg.action);
		});
	}
})();`

var (
	bootstrapOnce sync.Once
	bootstrapMin  string
)

// BootstrapScript returns the minified in-page runtime. Minification runs
// once; on failure the readable source ships as-is.
func BootstrapScript() string {
	bootstrapOnce.Do(func() {
		res := esbuild.Transform(bootstrapJS, esbuild.TransformOptions{
			MinifyWhitespace: true,
			MinifySyntax:     true,
			Target:           esbuild.ES2017,
		})
		if len(res.Errors) > 0 {
			var msgs []string
			for _, e := range res.Errors {
				msgs = append(msgs, e.Text)
			}
			logNamed("inject").Warn("bootstrap minify failed, shipping source",
				zap.String("errors", strings.Join(msgs, "; ")))
			bootstrapMin = bootstrapJS
			return
		}
		bootstrapMin = string(res.Code)
	})
	return bootstrapMin
}
