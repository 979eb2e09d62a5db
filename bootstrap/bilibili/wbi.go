package bilibili

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// wbiMixinTable is fixed by Bilibili; it derives the signing key from the
// img_key and sub_key the nav endpoint hands out.
var wbiMixinTable = []int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 52, 25,
	22, 44, 56, 30, 20, 36, 11, 21, 4, 34, 54, 57, 59, 6,
}

// wbiKeys fetches the current img_key and sub_key from the nav endpoint.
func (c *Client) wbiKeys(ctx context.Context) (imgKey, subKey string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, navURL, nil)
	if err != nil {
		return "", "", err
	}
	setCommonHeaders(req, c.cookies)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("nav request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read nav response: %w", err)
	}

	var result struct {
		Data struct {
			WbiImg struct {
				ImgURL string `json:"img_url"`
				SubURL string `json:"sub_url"`
			} `json:"wbi_img"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", "", fmt.Errorf("parse nav: %w", err)
	}

	imgKey = strings.TrimSuffix(path.Base(result.Data.WbiImg.ImgURL), path.Ext(result.Data.WbiImg.ImgURL))
	subKey = strings.TrimSuffix(path.Base(result.Data.WbiImg.SubURL), path.Ext(result.Data.WbiImg.SubURL))
	return imgKey, subKey, nil
}

// wbiMixinKey derives the signing key from img_key + sub_key via the table.
func wbiMixinKey(imgKey, subKey string) string {
	raw := imgKey + subKey
	var key strings.Builder
	for _, idx := range wbiMixinTable {
		if idx < len(raw) {
			key.WriteByte(raw[idx])
		}
	}
	s := key.String()
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}

// signWbi signs query parameters with wbi and returns the signed query
// string, including the w_rid and wts it adds.
func signWbi(params map[string]string, mixinKey string) string {
	params["wts"] = strconv.FormatInt(time.Now().Unix(), 10)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var query strings.Builder
	for i, k := range keys {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(url.QueryEscape(k))
		query.WriteByte('=')
		query.WriteString(url.QueryEscape(sanitizeWbiValue(params[k])))
	}
	queryStr := query.String()

	h := md5.New()
	h.Write([]byte(queryStr + mixinKey))
	wRid := hex.EncodeToString(h.Sum(nil))

	return queryStr + "&w_rid=" + wRid
}

// sanitizeWbiValue strips characters Bilibili rejects in wbi-signed values.
func sanitizeWbiValue(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r != '!' && r != '\'' && r != '(' && r != ')' && r != '*' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
