package testutil

// HostileStrings are user-supplied values that break naive quoting in SQL,
// CEL and JSON, or that carry unusual unicode.
var HostileStrings = []string{
	"",
	"'",
	"\"",
	"\\",
	"\\\"",
	"' OR '1'='1",
	"'; DROP TABLE batch_actions; --",
	"1; SELECT pg_sleep(10)",
	"%",
	"_",
	"%_%",
	"$1",
	"\" || true || \"",
	"\") || obs.exists(x, true) || (\"",
	"obs[\"name\"]",
	"true",
	"null",
	"</script><script>alert(1)</script>",
	"${jndi:ldap://x}",
	"%s%d%n",
	"\x00",
	"line\nbreak",
	"tab\tseparated",
	"Ω≈ç√∫",
	"田中さんにあげて下さい",
	"مرحبا",
	"‮txt.exe",
	"👩‍👩‍👧‍👦",
	"Z̮̞̠͙͔ͅḀ̗̞͈̻̗Ḷ͙͎̯̹̞͓G̻O̭̗̮",
}
