package main

const pageStyle = `
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            background: #f5f5f5;
            color: #333;
            padding: 20px;
        }
        h1 { font-size: 22px; margin-bottom: 8px; }
        .meta { color: #666; font-size: 13px; margin-bottom: 16px; }
        table { border-collapse: collapse; width: 100%; background: #fff; }
        th, td { padding: 6px 10px; border-bottom: 1px solid #eee; text-align: left; font-size: 13px; }
        th { background: #fafafa; }
        a { color: #0366d6; text-decoration: none; }
        .pct { font-weight: 600; }
        .excellent { color: #1a7f37; }
        .good { color: #4c9a2a; }
        .moderate { color: #9a6700; }
        .poor { color: #bc4c00; }
        .critical { color: #cf222e; }
        .none { color: #999; }
        .source-code td { font-family: 'SFMono-Regular', Consolas, monospace; font-size: 12px; padding: 0 8px; border: none; white-space: pre; }
        .line-num { color: #999; text-align: right; user-select: none; }
        .hits { color: #666; text-align: right; }
        .cov-hit { background: #e6ffec; }
        .cov-none { background: #ffebe9; }
        .cov-partial { background: #fff8c5; }
        .branch { display: inline-block; margin-right: 6px; color: #666; }
        .branch.missed { color: #cf222e; }
        section { margin-top: 20px; }
    </style>`

const indexTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Coverage Report</title>` + pageStyle + `
</head>
<body>
    <h1>Coverage Report</h1>
    <div class="meta">
        Run {{.Summary.RunID}} &middot; {{.Summary.CollectedAt}} &middot;
        {{formatInt .Summary.SuccessfulReports}}/{{formatInt .Summary.TotalReports}} reports &middot;
        lines <span class="pct {{colorClass .Lines}}">{{formatPct .Lines}}</span>
        ({{formatInt .Lines.Hit}}/{{formatInt .Lines.Instrumented}})
    </div>
    <table>
        <thead>
            <tr><th>File</th><th>Lines</th><th>Branches</th><th>Functions</th><th>Report</th></tr>
        </thead>
        <tbody>
        {{- range .Files}}
            <tr>
                <td><a href="{{.HTMLFile}}">{{.Path}}</a></td>
                <td class="pct {{colorClass .Lines}}">{{formatPct .Lines}} <span class="none">{{formatInt .Lines.Hit}}/{{formatInt .Lines.Instrumented}}</span></td>
                <td class="pct {{colorClass .Branches}}">{{formatPct .Branches}} <span class="none">{{formatInt .Branches.Hit}}/{{formatInt .Branches.Instrumented}}</span></td>
                <td class="pct {{colorClass .Declarations}}">{{formatPct .Declarations}} <span class="none">{{formatInt .Declarations.Hit}}/{{formatInt .Declarations.Instrumented}}</span></td>
                <td>{{.Report}}</td>
            </tr>
        {{- end}}
        </tbody>
    </table>
    {{- range .Summary.Results}}{{if not .Success}}
    <div class="meta critical">{{.Report}}: {{.Error}}</div>
    {{- end}}{{end}}
</body>
</html>
`

const fileTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Coverage: {{.Path}}</title>` + pageStyle + `
</head>
<body>
    <div class="meta"><a href="../index.html">&larr; index</a></div>
    <h1>{{.Path}}</h1>
    <div class="meta">
        {{.Report}} &middot;
        lines <span class="pct {{colorClass .Lines}}">{{formatPct .Lines}}</span> &middot;
        branches <span class="pct {{colorClass .Branches}}">{{formatPct .Branches}}</span> &middot;
        functions <span class="pct {{colorClass .Declarations}}">{{formatPct .Declarations}}</span>
    </div>

    {{- if .Detail.Declarations}}
    <section>
        <table>
            <thead><tr><th>Line</th><th>Hits</th><th>Function</th></tr></thead>
            <tbody>
            {{- range .Detail.Declarations}}
                <tr><td>{{lineNumber .Position}}</td><td>{{formatInt .Executed}}</td><td>{{.Name}}</td></tr>
            {{- end}}
            </tbody>
        </table>
    </section>
    {{- end}}

    <section>
    {{- if .Source}}
        <table class="source-code"><tbody>
        {{- range .Source}}
            <tr class="{{.Class}}">
                <td class="line-num" id="L{{.Number}}">{{.Number}}</td>
                <td class="hits">{{.Hits}}</td>
                <td>{{range .Branches}}<span class="branch{{if eq .Executed 0}} missed{{end}}">{{.Label}}:{{formatInt .Executed}}</span>{{end}}</td>
                <td class="line-content">{{.Text}}</td>
            </tr>
        {{- end}}
        </tbody></table>
    {{- else}}
        <table>
            <thead><tr><th>Line</th><th>Hits</th><th>Branches</th></tr></thead>
            <tbody>
            {{- range .Detail.Statements}}
                <tr class="{{if eq .Executed 0}}cov-none{{else}}cov-hit{{end}}">
                    <td>{{lineNumber .Position}}</td>
                    <td>{{formatInt .Executed}}</td>
                    <td>{{range .Branches}}<span class="branch{{if eq .Executed 0}} missed{{end}}">{{.Label}}:{{formatInt .Executed}}</span>{{end}}</td>
                </tr>
            {{- end}}
            </tbody>
        </table>
    {{- end}}
    </section>
</body>
</html>
`
