package cdpcontrol

import (
	"context"
	"net/url"
	"strings"
)

// PageFetch issues a GET from inside the brokerage tab with the page's own
// cookies (credentials: "include"). Non-2xx responses are returned, not
// treated as errors; only a failed fetch itself is.
func (c *Client) PageFetch(ctx context.Context, rawURL string, headers map[string]string) (PageResponse, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return PageResponse{}, newError(CodeValidation, "absolute url is required", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}

	var out PageResponse
	if err := c.evalOnPage(ctx, jsPageFetch(u.String(), headers), &out); err != nil {
		return PageResponse{}, err
	}
	return out, nil
}

func jsPageFetch(rawURL string, headers map[string]string) string {
	return wrapJSEvalAsync(`const url = ` + jsString(rawURL) + `;
const headers = ` + jsJSON(headers) + `;
let resp;
try {
  resp = await fetch(url, {method: "GET", credentials: "include", headers: headers});
} catch (fetchErr) {
  return JSON.stringify({ok:false,error_code:"` + CodeFetchFailed + `",error_message:String(fetchErr && fetchErr.message || fetchErr)});
}
const body = await resp.text();
return JSON.stringify({ok:true,data:{status:resp.status,ok:resp.ok,body:body}});`)
}

// PageTimezone returns the IANA zone the brokerage tab resolves dates in.
func (c *Client) PageTimezone(ctx context.Context) (string, error) {
	var zone string
	if err := c.evalOnPage(ctx, jsPageTimezone(), &zone); err != nil {
		return "", err
	}
	return zone, nil
}

func jsPageTimezone() string {
	return wrapJSEval(`const zone = Intl.DateTimeFormat().resolvedOptions().timeZone || "";
return JSON.stringify({ok:true,data:zone});`)
}
