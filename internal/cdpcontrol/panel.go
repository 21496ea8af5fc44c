package cdpcontrol

import (
	"context"
	"log/slog"
)

const (
	panelBinding   = "rhExporterTrigger"
	panelElementID = "rh-exporter-panel"
	triggerExport  = "export"
)

// OnPanelTrigger registers fn to run when the panel's export button is
// pressed. The binding reaches every tab attached after this call.
func (c *Client) OnPanelTrigger(fn func()) {
	c.Bind(panelBinding, func(payload string) {
		if payload != triggerExport {
			slog.Debug("cdpcontrol ignoring panel payload", "payload", payload)
			return
		}
		fn()
	})
}

// InstallPanel injects the control panel into every brokerage tab that does
// not show it yet and returns how many tabs were evaluated.
func (c *Client) InstallPanel(ctx context.Context) (int, error) {
	return c.evalOnEveryPage(ctx, jsInstallPanel())
}

// UpdatePanel pushes state into every injected panel.
func (c *Client) UpdatePanel(ctx context.Context, state PanelState) error {
	_, err := c.evalOnEveryPage(ctx, jsUpdatePanel(state))
	return err
}

func jsInstallPanel() string {
	return wrapJSEval(`const id = ` + jsString(panelElementID) + `;
if (!window.__rhExporterKeys) {
  window.__rhExporterKeys = true;
  document.addEventListener("keydown", function (e) {
    if (e.ctrlKey && e.shiftKey && (e.key === "R" || e.key === "r")) {
      const el = document.getElementById(id);
      if (!el) return;
      e.preventDefault();
      el.style.display = el.style.display === "none" ? "block" : "none";
    }
  }, true);
}
if (document.getElementById(id)) {
  return JSON.stringify({ok:true,data:{installed:false}});
}
if (!document.body) {
  return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:"document body not ready"});
}
const panel = document.createElement("div");
panel.id = id;
panel.style.cssText = "position:fixed;top:16px;right:16px;z-index:2147483647;width:260px;padding:12px;" +
  "background:#fff;color:#111;border:1px solid #ccc;border-radius:8px;box-shadow:0 4px 16px rgba(0,0,0,.2);" +
  "font:13px -apple-system,Segoe UI,Roboto,sans-serif;";
panel.innerHTML =
  '<div style="font-weight:600;margin-bottom:6px">Stock Ratings Export</div>' +
  '<div data-rh="auth">Auth: waiting for token</div>' +
  '<div data-rh="count">Instruments captured: 0</div>' +
  '<button data-rh="button" style="margin:8px 0;width:100%;padding:6px;cursor:pointer">Download Excel</button>' +
  '<div style="background:#eee;height:6px;border-radius:3px;overflow:hidden">' +
  '<div data-rh="bar" style="background:#00c805;height:6px;width:0%"></div></div>' +
  '<div data-rh="status" style="margin-top:6px;min-height:1em"></div>' +
  '<div style="margin-top:4px;color:#888;font-size:11px">Ctrl+Shift+R to hide</div>';
panel.querySelector('[data-rh="button"]').addEventListener("click", function () {
  if (typeof window.` + panelBinding + ` === "function") {
    window.` + panelBinding + `(` + jsString(triggerExport) + `);
  }
});
document.body.appendChild(panel);
return JSON.stringify({ok:true,data:{installed:true}});`)
}

func jsUpdatePanel(state PanelState) string {
	return wrapJSEval(`const s = ` + jsJSON(state) + `;
const panel = document.getElementById(` + jsString(panelElementID) + `);
if (!panel) {
  return JSON.stringify({ok:true,data:{updated:false}});
}
const q = function (k) { return panel.querySelector('[data-rh="' + k + '"]'); };
q("auth").textContent = s.token_ready ? "Auth: token captured" : "Auth: waiting for token";
q("count").textContent = "Instruments captured: " + s.instruments;
const btn = q("button");
btn.disabled = s.busy;
btn.textContent = s.busy ? "Exporting..." : "Download Excel";
const pct = s.total > 0 ? Math.round(100 * s.current / s.total) : 0;
q("bar").style.width = pct + "%";
const status = q("status");
status.textContent = s.message || "";
status.style.color = s.level === "error" ? "#d00" : (s.level === "success" ? "#080" : "#333");
return JSON.stringify({ok:true,data:{updated:true}});`)
}
