// Package admin は管理者向けの受信メール確認・再処理・集計機能を提供する。
package admin

import "strings"

// AllowList は管理者メールアドレスの許可リスト。
// 起動時に一度だけ構築し、以後変更しない。
type AllowList struct {
	emails map[string]struct{}
}

// NewAllowList はカンマ区切りのメールアドレス一覧から許可リストを構築する。
// 各要素は前後の空白を除去して小文字に正規化し、空の要素は無視する。
func NewAllowList(raw string) AllowList {
	emails := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		if email := normalize(part); email != "" {
			emails[email] = struct{}{}
		}
	}
	return AllowList{emails: emails}
}

// IsAdmin は呼び出し元のメールアドレスが許可リストに含まれるかを返す。
// 比較は許可リストと同じ正規化を行った上で行う。
func (a AllowList) IsAdmin(email string) bool {
	email = normalize(email)
	if email == "" {
		return false
	}
	_, ok := a.emails[email]
	return ok
}

// Len は許可リストの件数を返す。
func (a AllowList) Len() int {
	return len(a.emails)
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
