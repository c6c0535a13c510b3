package rewrite

import "strings"

// marker attribute that makes shim injection observable and idempotent.
const _shim_marker = "data-tunnel-shim"

// Shim returns the runtime script for the given prefix. it runs before
// any app code and patches the browser apis that construct urls at
// runtime, so root-absolute requests made by the served app stay under
// the tunnel prefix.
func Shim(prefix string) string {
	return strings.ReplaceAll(_shim_template, "__PREFIX__", prefix)
}

// _has_shim reports whether a document already carries the shim.
func _has_shim(src string) bool {
	return strings.Contains(src, _shim_marker)
}

const _shim_template = `<script ` + _shim_marker + `>
(function () {
  if (window.__tunnelShimInstalled) return;
  window.__tunnelShimInstalled = true;
  var prefix = "__PREFIX__";

  function rw(u) {
    if (typeof u === "string" && u.charAt(0) === "/" && u.charAt(1) !== "/" &&
        u !== prefix && u.indexOf(prefix + "/") !== 0) {
      return prefix + u;
    }
    return u;
  }

  var origFetch = window.fetch;
  if (origFetch) {
    window.fetch = function (input, init) {
      if (typeof input === "string") {
        input = rw(input);
      } else if (input && typeof input.url === "string") {
        input = new Request(rw(input.url), input);
      }
      return origFetch.call(this, input, init);
    };
  }

  var origOpen = XMLHttpRequest.prototype.open;
  XMLHttpRequest.prototype.open = function (method, url) {
    var args = Array.prototype.slice.call(arguments);
    args[1] = rw(url);
    return origOpen.apply(this, args);
  };

  var origPushState = history.pushState;
  history.pushState = function (state, title, url) {
    return origPushState.call(this, state, title, url == null ? url : rw(url));
  };
  var origReplaceState = history.replaceState;
  history.replaceState = function (state, title, url) {
    return origReplaceState.call(this, state, title, url == null ? url : rw(url));
  };

  function patchSetter(proto, prop) {
    var desc = Object.getOwnPropertyDescriptor(proto, prop);
    if (!desc || !desc.set) return;
    Object.defineProperty(proto, prop, {
      get: desc.get,
      set: function (value) { desc.set.call(this, rw(value)); },
      configurable: true
    });
  }
  patchSetter(HTMLImageElement.prototype, "src");
  patchSetter(HTMLScriptElement.prototype, "src");
  patchSetter(HTMLLinkElement.prototype, "href");

  var OrigWebSocket = window.WebSocket;
  if (OrigWebSocket) {
    var PatchedWebSocket = function (url, protocols) {
      if (typeof url === "string" && url.charAt(0) === "/" && url.charAt(1) !== "/") {
        var scheme = location.protocol === "https:" ? "wss://" : "ws://";
        url = scheme + location.host + rw(url);
      }
      try {
        return protocols === undefined ? new OrigWebSocket(url) : new OrigWebSocket(url, protocols);
      } catch (e) {
        // relay has no websocket passthrough; hand dev-server reload
        // clients a closed socket instead of crashing the page
        return {
          readyState: 3,
          send: function () {},
          close: function () {},
          addEventListener: function () {},
          removeEventListener: function () {},
          onopen: null, onclose: null, onerror: null, onmessage: null
        };
      }
    };
    PatchedWebSocket.prototype = OrigWebSocket.prototype;
    PatchedWebSocket.CONNECTING = 0;
    PatchedWebSocket.OPEN = 1;
    PatchedWebSocket.CLOSING = 2;
    PatchedWebSocket.CLOSED = 3;
    window.WebSocket = PatchedWebSocket;
  }

  var OrigEventSource = window.EventSource;
  if (OrigEventSource) {
    var PatchedEventSource = function (url, config) {
      return config === undefined ? new OrigEventSource(rw(url)) : new OrigEventSource(rw(url), config);
    };
    PatchedEventSource.prototype = OrigEventSource.prototype;
    window.EventSource = PatchedEventSource;
  }
})();
</script>`
