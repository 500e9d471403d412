package scanner

// knownLogPaths maps well-known services to their conventional log files.
// Services without an entry fall back to /var/log/<service>.log.
var knownLogPaths = map[string][]string{
	"nginx":      {"/var/log/nginx/error.log", "/var/log/nginx/access.log"},
	"mysql":      {"/var/log/mysql/error.log"},
	"apache":     {"/var/log/apache2/error.log"},
	"redis":      {"/var/log/redis/redis-server.log"},
	"postgresql": {"/var/log/postgresql/postgresql.log"},
	"system":     {"/var/log/syslog", "/var/log/messages"},
}

// LogPathsFor resolves the log files to inspect for a service.
func LogPathsFor(service string) []string {
	if paths, ok := knownLogPaths[service]; ok {
		return append([]string(nil), paths...)
	}
	return []string{"/var/log/" + service + ".log"}
}
