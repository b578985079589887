package clients

type Client struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Lastname  string `json:"lastname"`
	Docnumber int64  `json:"docnumber"`
	Age       int    `json:"age"`
}

// NewClient is the payload for registering a client.
type NewClient struct {
	Name      string `json:"name" validate:"required"`
	Lastname  string `json:"lastname" validate:"required"`
	Docnumber int64  `json:"docnumber" validate:"required,min=1"`
	Age       int    `json:"age" validate:"required,min=1,max=150"`
}
