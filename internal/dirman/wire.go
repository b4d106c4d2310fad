package dirman

import "github.com/faodel/kelpie/internal/faodel"

// wireMember/wireDirInfo/wireRequest/wireResponse are the JSON-friendly
// shapes dirman RPCs carry over the wire. ResourceURL and NodeID aren't
// marshaled directly (ResourceURL carries unexported fields; NodeID should
// round-trip through its canonical hex form, not a bare integer) so every
// wire struct uses plain strings/ints and is converted at the RPC boundary.
type wireMember struct {
	NodeID     string `json:"node_id"`
	MemberInfo string `json:"member_info"`
}

type wireDirInfo struct {
	URL        string       `json:"url"`
	InfoText   string       `json:"info_text"`
	MinMembers int          `json:"min_members"`
	Members    []wireMember `json:"members"`
}

type wireRequest struct {
	Op         string `json:"op"`
	URL        string `json:"url"`
	NodeID     string `json:"node_id,omitempty"`
	MemberInfo string `json:"member_info,omitempty"`
	InfoText   string `json:"info_text,omitempty"`
	MinMembers int    `json:"min_members,omitempty"`
}

type wireResponse struct {
	Info    wireDirInfo `json:"info"`
	ErrCode int         `json:"err_code,omitempty"`
	ErrMsg  string      `json:"err_msg,omitempty"`
}

func toWireInfo(info DirectoryInfo) wireDirInfo {
	w := wireDirInfo{URL: info.URL.String(), InfoText: info.InfoText, MinMembers: info.MinMembers}
	for _, m := range info.Members {
		w.Members = append(w.Members, wireMember{NodeID: m.NodeID.Hex(), MemberInfo: m.MemberInfo})
	}
	return w
}

func fromWireInfo(w wireDirInfo) (DirectoryInfo, error) {
	if w.URL == "" {
		// An empty directory (e.g. LeaveDir on an undefined path) carries
		// no URL at all.
		return DirectoryInfo{}, nil
	}
	url, err := faodel.ParseResourceURL(w.URL)
	if err != nil {
		return DirectoryInfo{}, err
	}
	info := DirectoryInfo{URL: url, InfoText: w.InfoText, MinMembers: w.MinMembers}
	for _, m := range w.Members {
		id, err := faodel.NodeIDFromHex(m.NodeID)
		if err != nil {
			return DirectoryInfo{}, err
		}
		info.Members = append(info.Members, Member{NodeID: id, MemberInfo: m.MemberInfo})
	}
	return info, nil
}

func errResponse(err error) wireResponse {
	return wireResponse{ErrCode: int(faodel.CodeOf(err)), ErrMsg: err.Error()}
}

func (w wireResponse) toError() error {
	if w.ErrCode == 0 {
		return nil
	}
	return faodel.NewError(faodel.Code(w.ErrCode), "%s", w.ErrMsg)
}
