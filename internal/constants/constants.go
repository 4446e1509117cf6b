package constants

import "time"

// lamp loop
const TickInterval = 5 * time.Second
const StartupRetryInterval = 60 * time.Second
const RefreshRetryInterval = 60 * time.Second
const DemoTickInterval = 50 * time.Millisecond

// night light (warm only)
const NightLightWarm = 0.25
const NightLightCool = 0.0

// schedule
const ScheduleRefreshInterval = 6 * time.Hour
const ScheduleStaleThreshold = time.Hour
const ServerTimeDriftTolerance = 5 * time.Minute
const DefaultScheduleMode = "dayNight"

// network
const MaxAttempts = 3
const BaseRetryDelay = time.Second
const NTPTimeout = 5 * time.Second
const HTTPTimeout = 10 * time.Second
const WifiTimeout = 30 * time.Second
const WifiPollInterval = 500 * time.Millisecond
const DefaultAuthHeader = "x-custom-auth"

var DefaultNTPServers = []string{
	"pool.ntp.org",
	"time.google.com",
	"time.cloudflare.com",
}

// output
const GammaCorrection = 2.2
const MaxDutyCycle = 65535
const JournalRetention = 30 * 24 * time.Hour

// output sources recorded in the journal
const SourceSchedule = "schedule"
const SourceDemo = "demo"
const SourceNightLight = "nightLight"
const SourceOff = "off"

// schedule sources
const ScheduleSourceServer = "server"
const ScheduleSourceDemo = "demo"
const ScheduleSourceDaylight = "daylight"

// remote logging
const RemoteLogQueueSize = 32
const RemoteLogSendInterval = 100 * time.Millisecond
