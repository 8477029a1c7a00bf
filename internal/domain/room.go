package domain

// Permission 描述成员在房间内的运行权限。
type Permission struct {
	CanRunCode bool `json:"canRunCode"`
}

// Member 是房间花名册中的一项，发送给客户端用于渲染成员列表与运行按钮状态。
type Member struct {
	SocketID   string     `json:"socketId"`
	Username   string     `json:"username"`
	IsAdmin    bool       `json:"isAdmin"`
	Permission Permission `json:"permission"`
}

// Connection 表示一个活跃的传输连接。DisplayName 在 join 时设置，之后不可变。
type Connection struct {
	ID          string
	DisplayName string
	UserID      string // 客户端提供的不透明用户标识，可为空
}
