package notifications

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// English keys double as the rendered English text.
var translations = map[language.Tag]map[string]string{
	language.Japanese: {
		"order pending confirmation": "注文の確認待ちです",
		"being processed":            "注文を処理しています",
		"handed to carrier":          "配送業者に引き渡しました",
		"left warehouse":             "倉庫から出荷されました",
		"delivered successfully":     "配達が完了しました",
		"order cancelled":            "注文はキャンセルされました",
		"return processed":           "返品の処理が完了しました",
		"new order received":         "新しい注文を受け付けました",
		"Order update":               "注文の更新",
		"Order status changed":       "注文ステータスの変更",
		"New order":                  "新規注文",
	},
	language.Vietnamese: {
		"order pending confirmation": "đơn hàng đang chờ xác nhận",
		"being processed":            "đơn hàng đang được xử lý",
		"handed to carrier":          "đã giao cho đơn vị vận chuyển",
		"left warehouse":             "đã rời kho",
		"delivered successfully":     "giao hàng thành công",
		"order cancelled":            "đơn hàng đã bị hủy",
		"return processed":           "đã xử lý trả hàng",
		"new order received":         "có đơn hàng mới",
		"Order update":               "Cập nhật đơn hàng",
		"Order status changed":       "Trạng thái đơn hàng đã thay đổi",
		"New order":                  "Đơn hàng mới",
	},
}

// Catalog renders notification text for a recipient locale.
type Catalog struct {
	cat     *catalog.Builder
	matcher language.Matcher
	keys    map[string]struct{}
}

// NewCatalog builds the message catalog with English as the fallback language.
func NewCatalog() (*Catalog, error) {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	keys := make(map[string]struct{})
	for tag, entries := range translations {
		for key, text := range entries {
			if strings.Contains(key, "%") {
				return nil, fmt.Errorf("notifications: key %q must not contain format verbs", key)
			}
			if err := builder.SetString(tag, key, text); err != nil {
				return nil, fmt.Errorf("notifications: register %s %q: %w", tag, key, err)
			}
			keys[key] = struct{}{}
		}
	}
	tags := append([]language.Tag{language.English}, builder.Languages()...)
	return &Catalog{cat: builder, matcher: language.NewMatcher(tags), keys: keys}, nil
}

// Resolve normalises a locale string to the closest supported tag.
func (c *Catalog) Resolve(locale string) language.Tag {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return language.English
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	matched, _, confidence := c.matcher.Match(tag)
	if confidence == language.No {
		return language.English
	}
	base, _ := matched.Base()
	return language.Make(base.String())
}

// Render returns key in the given locale. Text that is not a catalog key is returned
// unchanged and never interpreted as a format string.
func (c *Catalog) Render(locale, key string) string {
	if _, ok := c.keys[key]; !ok {
		return key
	}
	printer := message.NewPrinter(c.Resolve(locale), message.Catalog(c.cat))
	return printer.Sprintf(key)
}

// Languages lists the locales with translations, English first.
func (c *Catalog) Languages() []string {
	out := []string{language.English.String()}
	for _, tag := range c.cat.Languages() {
		if tag != language.English {
			out = append(out, tag.String())
		}
	}
	return out
}
