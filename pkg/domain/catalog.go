package domain

// Category is one of the four proxy protocols the upstream API groups by.
type Category string

const (
	CategoryHTTP   Category = "http"
	CategoryHTTPS  Category = "https"
	CategorySOCKS4 Category = "socks4"
	CategorySOCKS5 Category = "socks5"
)

// Categories lists every category in the order the combined list uses.
var Categories = []Category{CategoryHTTP, CategoryHTTPS, CategorySOCKS4, CategorySOCKS5}

// Scheme returns the URL prefix for entries of this category.
func (c Category) Scheme() string {
	return string(c) + "://"
}

// ProxyCatalog holds host:port entries per category, without scheme prefixes.
type ProxyCatalog struct {
	HTTP   []string `json:"http"`
	HTTPS  []string `json:"https"`
	SOCKS4 []string `json:"socks4"`
	SOCKS5 []string `json:"socks5"`
}

// Entries returns the list for a category. Unknown categories yield nil.
func (c ProxyCatalog) Entries(cat Category) []string {
	switch cat {
	case CategoryHTTP:
		return c.HTTP
	case CategoryHTTPS:
		return c.HTTPS
	case CategorySOCKS4:
		return c.SOCKS4
	case CategorySOCKS5:
		return c.SOCKS5
	default:
		return nil
	}
}
